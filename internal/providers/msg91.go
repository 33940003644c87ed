package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

const msg91DefaultBase = "https://control.msg91.com"

// MSG91 sends SMS through the v5 flow API, template plus variables.
//
// config: template_id or template_id.<status>, var_map
// ("VAR1=tracking_code,VAR2=status_label"), default_region, base_url.
// credentials: auth_key.
type MSG91 struct {
	client *http.Client
	phones PhoneNormalizer
}

func NewMSG91(c *http.Client, phones PhoneNormalizer) *MSG91 {
	return &MSG91{client: c, phones: phones}
}

func (*MSG91) ID() string { return "msg91" }

func (*MSG91) Channels() []notification.Channel {
	return []notification.Channel{notification.ChannelSMS}
}

type msg91Request struct {
	TemplateID string              `json:"template_id"`
	ShortURL   string              `json:"short_url"`
	Recipients []map[string]string `json:"recipients"`
}

type msg91Response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m *MSG91) Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result {
	phone, err := m.phones.E164(msg.To, cfg.Config["default_region"])
	if err != nil {
		return Fail(KindValidation, "%v", err)
	}
	authKey := cfg.Credentials["auth_key"]
	templateID := firstNonEmpty(msg.TemplateName, templateFor(cfg.Config, "template_id", msg.Event))
	if authKey == "" || templateID == "" {
		return Fail(KindConfig, "msg91: auth_key and template_id are required")
	}

	recipient := map[string]string{"mobiles": strings.TrimPrefix(phone, "+")}
	for name, value := range mapVars(cfg.Config["var_map"], msg.Variables) {
		recipient[name] = value
	}

	req := msg91Request{TemplateID: templateID, ShortURL: "0", Recipients: []map[string]string{recipient}}
	url := baseURL(cfg.Config, msg91DefaultBase) + "/api/v5/flow"
	reply, err := postJSON(ctx, m.client, url, map[string]string{"authkey": authKey}, req)
	if err != nil {
		return Fail(KindProvider, "msg91: %v", err)
	}
	if !reply.ok() {
		return reply.failure("msg91")
	}

	var out msg91Response
	if err := json.Unmarshal(reply.Body, &out); err != nil {
		return Fail(KindProvider, "msg91: decode response: %v", err)
	}
	if out.Type != "success" {
		return Fail(KindProvider, "msg91: %s", out.Message)
	}
	return Sent(out.Message)
}

// templateFor returns cfg[prefix.event], else cfg[prefix].
func templateFor(cfg map[string]string, prefix, event string) string {
	if event != "" {
		if v := cfg[prefix+"."+event]; v != "" {
			return v
		}
	}
	return cfg[prefix]
}

// mapVars applies a "NAME=var,NAME2=var2" mapping; an empty mapping passes
// every variable through unchanged.
func mapVars(mapping string, vars map[string]string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(mapping) == "" {
		for k, v := range vars {
			out[k] = v
		}
		return out
	}
	for _, pair := range strings.Split(mapping, ",") {
		name, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		out[strings.TrimSpace(name)] = vars[strings.TrimSpace(key)]
	}
	return out
}
