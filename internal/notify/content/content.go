// Package content builds the subject and body for one channel attempt from
// the tenant template, the global template, or the built-in fallback.
package content

import (
	"context"

	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/domain/shipment"
	"github.com/NordCoder/Shipnotify/internal/notify/render"
)

type Source string

const (
	SourceTenant  Source = "tenant"
	SourceGlobal  Source = "global"
	SourceBuiltin Source = "builtin"
)

type Content struct {
	Subject string
	Body    string
	Source  Source
}

type Builder struct {
	Templates notification.TemplateRepo
	Log       *zap.Logger
}

func NewBuilder(templates notification.TemplateRepo, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{Templates: templates, Log: log}
}

// Variables returns the system variables for it, overridden by the
// free-form payload variables.
func Variables(it *queue.Item) map[string]string {
	p := it.Payload
	newStatus := shipment.Status(firstNonEmpty(p.NewStatus, it.EventType))
	vars := map[string]string{
		"tenant_id":       it.TenantID,
		"shipment_id":     it.ShipmentKey(),
		"tracking_code":   p.TrackingCode,
		"status":          string(newStatus),
		"status_label":    newStatus.Label(),
		"old_status":      p.OldStatus,
		"recipient_name":  p.RecipientName,
		"recipient_email": p.RecipientEmail,
		"recipient_phone": p.RecipientPhone,
		"location":        p.Location,
	}
	if p.OldStatus != "" {
		vars["old_status_label"] = shipment.Status(p.OldStatus).Label()
	} else {
		vars["old_status_label"] = ""
	}
	for k, v := range p.Variables {
		vars[k] = v
	}
	return vars
}

// Build renders the template for channel and event. A template store error
// falls through to the next source.
func (b *Builder) Build(ctx context.Context, tenantID string, channel notification.Channel, event string, vars map[string]string) Content {
	tmpl, src := b.lookup(ctx, tenantID, channel, event)
	return Content{
		Subject: render.Render(tmpl.Subject, vars),
		Body:    render.Render(tmpl.Body, vars),
		Source:  src,
	}
}

func (b *Builder) lookup(ctx context.Context, tenantID string, channel notification.Channel, event string) (notification.Template, Source) {
	if b.Templates != nil {
		for _, try := range []struct {
			tenant *string
			src    Source
		}{{&tenantID, SourceTenant}, {nil, SourceGlobal}} {
			t, err := b.Templates.FindActive(ctx, try.tenant, channel, event)
			if err != nil {
				b.Log.Warn("template lookup failed",
					zap.String("tenant_id", tenantID),
					zap.String("channel", string(channel)),
					zap.String("event", event),
					zap.String("source", string(try.src)),
					zap.Error(err),
				)
				continue
			}
			if t != nil {
				return *t, try.src
			}
		}
	}
	return Builtin(channel, event), SourceBuiltin
}

// Builtin is the fallback template for channel.
func Builtin(channel notification.Channel, event string) notification.Template {
	t := notification.Template{Channel: channel, EventType: event, IsActive: true}
	switch channel {
	case notification.ChannelEmail:
		t.Subject = "Shipment {{tracking_code}}: {{status_label}}"
		t.Body = builtinEmail
	case notification.ChannelSMS, notification.ChannelWhatsApp:
		t.Body = "{{#if recipient_name}}Hi {{recipient_name}}, {{/if}}your shipment {{tracking_code}} is now {{status_label}}{{#if location}} ({{location}}){{/if}}."
	default:
		// webhook: the body is the event name
		t.Body = "shipment.{{status}}"
	}
	return t
}

const builtinEmail = `<p>{{#if recipient_name}}Hi {{recipient_name}},{{/if}}</p>
<p>Your shipment <strong>{{tracking_code}}</strong> is now <strong>{{status_label}}</strong>.</p>
{{#if location}}<p>Current location: {{location}}</p>{{/if}}
{{#if old_status_label}}<p>Previous status: {{old_status_label}}</p>{{/if}}`

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
