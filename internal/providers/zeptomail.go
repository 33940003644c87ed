package providers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

const zeptoDefaultBase = "https://api.zeptomail.com"

// ZeptoMail sends through the ZeptoMail v1.1 email API.
//
// config: from, from_name, reply_to, base_url. credentials: api_key (the
// "Send Mail token", with or without the Zoho-enczapikey prefix).
type ZeptoMail struct {
	client *http.Client
}

func NewZeptoMail(c *http.Client) *ZeptoMail { return &ZeptoMail{client: c} }

func (*ZeptoMail) ID() string { return "zeptomail" }

func (*ZeptoMail) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelEmail}
}

type zeptoAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type zeptoRecipient struct {
	EmailAddress zeptoAddress `json:"email_address"`
}

type zeptoRequest struct {
	From     zeptoAddress     `json:"from"`
	To       []zeptoRecipient `json:"to"`
	ReplyTo  []zeptoAddress   `json:"reply_to,omitempty"`
	Subject  string           `json:"subject"`
	HTMLBody string           `json:"htmlbody"`
}

type zeptoResponse struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

func (z *ZeptoMail) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	if err := validate.Var(msg.To, "required,email"); err != nil {
		return Fail(KindValidation, "invalid recipient email %q", msg.To)
	}
	token := cfg.Credentials["api_key"]
	from := firstNonEmpty(msg.From, cfg.Config["from"])
	if token == "" || from == "" {
		return Fail(KindConfig, "zeptomail: api_key and from are required")
	}
	if len(token) < 16 || token[:16] != "Zoho-enczapikey " {
		token = "Zoho-enczapikey " + token
	}

	req := zeptoRequest{
		From:     zeptoAddress{Address: from, Name: cfg.Config["from_name"]},
		To:       []zeptoRecipient{{EmailAddress: zeptoAddress{Address: msg.To, Name: msg.Name}}},
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
	}
	if rt := firstNonEmpty(msg.ReplyTo, cfg.Config["reply_to"]); rt != "" {
		req.ReplyTo = []zeptoAddress{{Address: rt}}
	}

	url := baseURL(cfg.Config, zeptoDefaultBase) + "/v1.1/email"
	reply, err := postJSON(ctx, z.client, url, map[string]string{"Authorization": token}, req)
	if err != nil {
		return Fail(KindProvider, "zeptomail: %v", err)
	}
	if !reply.ok() {
		return reply.failure("zeptomail")
	}

	var out zeptoResponse
	_ = json.Unmarshal(reply.Body, &out)
	return Sent(out.RequestID)
}
