package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

const SignatureHeader = "X-Shipnotify-Signature"

// Webhook posts {event, timestamp, data} to a tenant URL.
//
// config: url. credentials: secret, signs the body as
// "sha256=<hex hmac>" in SignatureHeader when set.
type Webhook struct {
	client *http.Client
}

func NewWebhook(c *http.Client) *Webhook { return &Webhook{client: c} }

func (*Webhook) ID() string { return "webhook" }

func (*Webhook) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelWebhook}
}

type webhookBody struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (w *Webhook) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	target := firstNonEmpty(msg.To, cfg.Config["url"])
	if target == "" {
		return Fail(KindConfig, "webhook: url is required")
	}
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Fail(KindValidation, "webhook: invalid url %q", target)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	body, err := json.Marshal(webhookBody{Event: msg.Event, Timestamp: ts, Data: msg.Data})
	if err != nil {
		return Fail(KindValidation, "webhook: encode body: %v", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if secret := cfg.Credentials["secret"]; secret != "" {
		headers[SignatureHeader] = Sign(secret, body)
	}
	reply, err := do(ctx, w.client, http.MethodPost, target, headers, body)
	if err != nil {
		return Fail(KindProvider, "webhook: %v", err)
	}
	if !reply.ok() {
		res := reply.failure("webhook")
		// tenant endpoints get retried on 4xx too
		if res.ErrorKind == KindValidation {
			res.ErrorKind = KindProvider
		}
		return res
	}
	res := Sent("")
	res.Metadata = map[string]any{"http_status": reply.Status}
	return res
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
