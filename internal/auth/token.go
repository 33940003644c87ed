// Package auth signs and checks the HS256 service tokens that guard the
// worker's operational endpoints.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrScope        = errors.New("token lacks scope")
)

const (
	ScopeQueue  = "queue:process"
	ScopeEvents = "events:write"
)

type Claims struct {
	Sub   string   `json:"sub"`
	Scope []string `json:"scope,omitempty"`
	Iat   int64    `json:"iat"`
	Exp   int64    `json:"exp"`
}

func (c Claims) HasScope(s string) bool {
	return slices.Contains(c.Scope, s) || slices.Contains(c.Scope, "*")
}

// Issue signs a token for sub valid for ttl from now.
func Issue(secret []byte, sub string, scope []string, now time.Time, ttl time.Duration) (string, error) {
	return Claims{Sub: sub, Scope: scope, Iat: now.Unix(), Exp: now.Add(ttl).Unix()}.SignedString(secret)
}

func ParseAndValidate(token string, secret []byte, now time.Time) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenInvalid
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	expectedSig := hmacSHA256(secret, []byte(headerB64+"."+payloadB64))
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode signature: %v", ErrTokenInvalid, err)
	}
	if !hmac.Equal(sig, expectedSig) {
		return nil, ErrTokenInvalid
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrTokenInvalid, err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, fmt.Errorf("%w: unmarshal claims: %v", ErrTokenInvalid, err)
	}

	// one minute of clock skew
	ts := now.Unix()
	if claims.Iat > ts+60 {
		return nil, fmt.Errorf("%w: used before issued", ErrTokenInvalid)
	}
	if claims.Exp < ts {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (c Claims) SignedString(secret []byte) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	payloadJSON, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	sigInput := header + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	sig := hmacSHA256(secret, []byte(sigInput))

	return sigInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func hmacSHA256(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
