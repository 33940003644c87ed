package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

const twilioDefaultBase = "https://api.twilio.com"

// Twilio sends SMS and WhatsApp through the Messages API.
//
// config: from, whatsapp_from, messaging_service_sid, default_region,
// base_url. credentials: account_sid, auth_token.
type Twilio struct {
	client *http.Client
	phones PhoneNormalizer
}

func NewTwilio(c *http.Client, phones PhoneNormalizer) *Twilio {
	return &Twilio{client: c, phones: phones}
}

func (*Twilio) ID() string { return "twilio" }

func (*Twilio) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelSMS, notification.ChannelWhatsApp}
}

type twilioResponse struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode *int   `json:"error_code"`
}

func (t *Twilio) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	to, err := t.phones.E164(msg.To, cfg.Config["default_region"])
	if err != nil {
		return Fail(KindValidation, "%v", err)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Fail(KindValidation, "twilio: empty message body")
	}
	sid, token := cfg.Credentials["account_sid"], cfg.Credentials["auth_token"]
	if sid == "" || token == "" {
		return Fail(KindConfig, "twilio: account_sid and auth_token are required")
	}

	form := url.Values{}
	form.Set("Body", msg.Text)
	from := cfg.Config["from"]
	if msg.Channel == notification.ChannelWhatsApp {
		to = "whatsapp:" + to
		from = firstNonEmpty(cfg.Config["whatsapp_from"], from)
		if from != "" && !strings.HasPrefix(from, "whatsapp:") {
			from = "whatsapp:" + from
		}
	}
	form.Set("To", to)
	switch {
	case cfg.Config["messaging_service_sid"] != "":
		form.Set("MessagingServiceSid", cfg.Config["messaging_service_sid"])
	case from != "":
		form.Set("From", from)
	default:
		return Fail(KindConfig, "twilio: from or messaging_service_sid is required")
	}

	endpoint := baseURL(cfg.Config, twilioDefaultBase) + "/2010-04-01/Accounts/" + url.PathEscape(sid) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Fail(KindProvider, "twilio: build request: %v", err)
	}
	req.SetBasicAuth(sid, token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	reply, err := doRequest(t.client, req)
	if err != nil {
		return Fail(KindProvider, "twilio: %v", err)
	}
	if !reply.ok() {
		return reply.failure("twilio")
	}

	var out twilioResponse
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		return Fail(KindProvider, "twilio: decode response: %v", err)
	}
	res := Sent(out.SID)
	res.Metadata = map[string]any{"status": out.Status}
	return res
}
