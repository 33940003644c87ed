package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("s3cret")

func TestIssueAndParse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := Issue(secret, "cron", []string{ScopeQueue}, now, time.Hour)
	require.NoError(t, err)

	c, err := ParseAndValidate(tok, secret, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "cron", c.Sub)
	assert.True(t, c.HasScope(ScopeQueue))
	assert.False(t, c.HasScope(ScopeEvents))

	_, err = ParseAndValidate(tok, secret, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = ParseAndValidate(tok, []byte("other"), now)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = ParseAndValidate("a.b", secret, now)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	parts := strings.Split(tok, ".")
	_, err = ParseAndValidate(parts[0]+".eyJzdWIiOiJ4In0."+parts[2], secret, now)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestWildcardScope(t *testing.T) {
	assert.True(t, Claims{Scope: []string{"*"}}.HasScope(ScopeEvents))
}

func TestRequire(t *testing.T) {
	var sub string
	h := Require(secret, ScopeQueue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromCtx(r.Context())
		require.True(t, ok)
		sub = c.Sub
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/queue/process", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer junk"))

	wrong, err := Issue(secret, "ingest", []string{ScopeEvents}, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+wrong))

	ok, err := Issue(secret, "cron", []string{ScopeQueue}, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, call("bearer "+ok))
	assert.Equal(t, "cron", sub)
}

func TestRequire_DisabledWithoutSecret(t *testing.T) {
	h := Require(nil, ScopeQueue, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
