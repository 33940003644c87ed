package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

const metaDefaultBase = "https://graph.facebook.com/v18.0"

// MetaWhatsApp sends through the WhatsApp Cloud API. A configured template
// is sent as a template message, otherwise Text goes out as a text message.
//
// config: phone_number_id, template or template.<status>, language,
// template_params ("tracking_code,status_label"), default_region, base_url.
// credentials: access_token.
type MetaWhatsApp struct {
	client *http.Client
	phones PhoneNormalizer
}

func NewMetaWhatsApp(c *http.Client, phones PhoneNormalizer) *MetaWhatsApp {
	return &MetaWhatsApp{client: c, phones: phones}
}

func (*MetaWhatsApp) ID() string { return "meta_whatsapp" }

func (*MetaWhatsApp) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelWhatsApp}
}

type waTemplateMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Template         waTemplateBody `json:"template"`
}

type waTemplateBody struct {
	Name       string        `json:"name"`
	Language   waLanguage    `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waLanguage struct {
	Code string `json:"code"`
}

type waComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters"`
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (w *MetaWhatsApp) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	to, err := w.phones.E164(msg.To, cfg.Config["default_region"])
	if err != nil {
		return Fail(KindValidation, "%v", err)
	}
	token, phoneID := cfg.Credentials["access_token"], cfg.Config["phone_number_id"]
	if token == "" || phoneID == "" {
		return Fail(KindConfig, "meta_whatsapp: access_token and phone_number_id are required")
	}

	var payload any
	if name := firstNonEmpty(msg.TemplateName, templateFor(cfg.Config, "template", msg.Event)); name != "" {
		lang := firstNonEmpty(cfg.Config["language"], "en_US")
		body := waTemplateBody{Name: name, Language: waLanguage{Code: lang}}
		if params := templateParams(cfg.Config["template_params"], msg.Variables); len(params) > 0 {
			body.Components = []waComponent{{Type: "body", Parameters: params}}
		}
		payload = waTemplateMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "template",
			Template:         body,
		}
	} else {
		if strings.TrimSpace(msg.Text) == "" {
			return Fail(KindValidation, "meta_whatsapp: empty message body")
		}
		m := waTextMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
		m.Text.PreviewURL = true
		m.Text.Body = msg.Text
		payload = m
	}

	url := baseURL(cfg.Config, metaDefaultBase) + "/" + phoneID + "/messages"
	reply, err := postJSON(ctx, w.client, url, map[string]string{"Authorization": "Bearer " + token}, payload)
	if err != nil {
		return Fail(KindProvider, "meta_whatsapp: %v", err)
	}
	if !reply.ok() {
		return reply.failure("meta_whatsapp")
	}

	var out waResponse
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		return Fail(KindProvider, "meta_whatsapp: decode response: %v", err)
	}
	if len(out.Messages) == 0 {
		return Fail(KindProvider, "meta_whatsapp: no message id in response")
	}
	return Sent(out.Messages[0].ID)
}

func templateParams(keys string, vars map[string]string) []waParameter {
	var out []waParameter
	for _, k := range strings.Split(keys, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, waParameter{Type: "text", Text: vars[k]})
	}
	return out
}
