package notification

import (
	"strings"
	"time"

	"github.com/NordCoder/Shipnotify/internal/domain/shipment"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWebhook  Channel = "webhook"
)

// Channels is the fan-out order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelWebhook}

func ParseChannel(s string) (Channel, bool) {
	c := Channel(s)
	for _, known := range Channels {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// ProviderConfig is one row of tenant_notification_configs.
// TenantID nil marks the global default. RawCredentials is the stored form,
// plaintext JSON or a sealed bundle; Credentials is the opened map.
type ProviderConfig struct {
	ID             int64             `json:"id"`
	TenantID       *string           `json:"tenant_id"`
	Channel        Channel           `json:"channel"`
	ProviderID     string            `json:"provider_id"`
	Credentials    map[string]string `json:"-"`
	RawCredentials string            `json:"-"`
	Config         map[string]string `json:"config"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (c *ProviderConfig) IsGlobal() bool { return c.TenantID == nil }

type LogStatus string

const (
	LogSent   LogStatus = "sent"
	LogFailed LogStatus = "failed"
)

// MetaTrigger is the metadata key the duplicate guard matches on.
const MetaTrigger = "trigger"

// Log is an append-only record of one send attempt.
type Log struct {
	ID           int64          `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ShipmentID   *string        `json:"shipment_id"`
	Channel      Channel        `json:"channel"`
	Recipient    string         `json:"recipient"`
	Status       LogStatus      `json:"status"`
	ProviderID   string         `json:"provider_id"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SentAt       time.Time      `json:"sent_at"`
}

func (l *Log) Trigger() string {
	if l.Metadata == nil {
		return ""
	}
	s, _ := l.Metadata[MetaTrigger].(string)
	return s
}

// Template is a tenant-editable (or global) subject/body pair.
type Template struct {
	ID        int64   `json:"id"`
	TenantID  *string `json:"tenant_id"`
	Channel   Channel `json:"channel"`
	EventType string  `json:"event_type"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	IsActive  bool    `json:"is_active"`
}

// TriggerAll in NotificationTriggers enables every status.
const TriggerAll = "all"

// NormalizeTriggers maps stored trigger names onto status enum values, so
// "DELIVERED" and "Out For Delivery" match delivered and out_for_delivery.
// Wildcards are lowercased; unrecognised entries are kept as written.
func NormalizeTriggers(raw []string) []string {
	if len(raw) == 0 {
		return raw
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if w := strings.ToLower(strings.TrimSpace(t)); w == TriggerAll || w == "*" {
			out = append(out, w)
			continue
		}
		if st, ok := shipment.Normalize(t); ok {
			out = append(out, string(st))
			continue
		}
		out = append(out, t)
	}
	return out
}

// Settings is the read-only slice of tenant settings this service needs.
type Settings struct {
	TenantID             string    `json:"tenant_id"`
	NotificationTriggers []string  `json:"notification_triggers"`
	NotificationChannels []Channel `json:"notification_channels"`
}

// TriggerEnabled reports whether status should produce notifications.
// An empty trigger list means every status.
func (s *Settings) TriggerEnabled(status string) bool {
	if s == nil || len(s.NotificationTriggers) == 0 {
		return true
	}
	for _, t := range s.NotificationTriggers {
		if t == TriggerAll || t == "*" || t == status {
			return true
		}
	}
	return false
}

// EnabledChannels returns the channel allow-list, or all channels when unset.
func (s *Settings) EnabledChannels() []Channel {
	if s == nil || len(s.NotificationChannels) == 0 {
		return Channels
	}
	out := make([]Channel, 0, len(s.NotificationChannels))
	for _, c := range Channels {
		for _, e := range s.NotificationChannels {
			if c == e {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
