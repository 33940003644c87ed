package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
	UserAgent string        `mapstructure:"user_agent"`
}

type agentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t agentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.ua != "" && r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(r)
}

func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(agentTransport{next: transport, ua: cfg.UserAgent}),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type httpReply struct {
	Status int
	Text   string
	Body   []byte
}

func (r httpReply) ok() bool { return r.Status >= 200 && r.Status < 300 }

// failure classifies a non-2xx reply. Auth rejections are config errors,
// other 4xx except 408 and 429 are validation errors.
func (r httpReply) failure(provider string) Result {
	kind := KindProvider
	switch {
	case r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden:
		kind = KindConfig
	case r.Status >= 400 && r.Status < 500 && r.Status != http.StatusRequestTimeout && r.Status != http.StatusTooManyRequests:
		kind = KindValidation
	}
	res := Fail(kind, "%s: HTTP %d %s: %s", provider, r.Status, r.Text, truncate(string(r.Body), 300))
	res.Metadata = map[string]any{"http_status": r.Status}
	return res
}

func postJSON(ctx context.Context, c *http.Client, url string, headers map[string]string, payload any) (httpReply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return httpReply{}, fmt.Errorf("marshal: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	return do(ctx, c, http.MethodPost, url, headers, body)
}

func do(ctx context.Context, c *http.Client, method, url string, headers map[string]string, body []byte) (httpReply, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return httpReply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(c, req)
}

func doRequest(c *http.Client, req *http.Request) (httpReply, error) {
	resp, err := c.Do(req)
	if err != nil {
		return httpReply{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return httpReply{}, fmt.Errorf("read response: %w", err)
	}
	return httpReply{Status: resp.StatusCode, Text: http.StatusText(resp.StatusCode), Body: data}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func baseURL(cfg map[string]string, def string) string {
	if v := strings.TrimSpace(cfg["base_url"]); v != "" {
		return strings.TrimRight(v, "/")
	}
	return def
}
