package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/notify/content"
	"github.com/NordCoder/Shipnotify/internal/notify/resolver"
	"github.com/NordCoder/Shipnotify/internal/obs"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	"github.com/NordCoder/Shipnotify/internal/providers"
)

var validate = validator.New()

// attempt runs guard, resolver, renderer and provider for one channel.
func (d *Dispatcher) attempt(ctx context.Context, it *queue.Item, ch notification.Channel, trigger string, vars map[string]string, log *zap.Logger) (res queue.ChannelResult) {
	ctx, span := tracer.Start(ctx, "dispatch.channel", trace.WithAttributes(attribute.String("channel", string(ch))))
	defer func() {
		span.SetAttributes(attribute.String("outcome", res.Outcome))
		if res.Failed() {
			obs.EndSpan(span, errors.New(res.Error))
			return
		}
		span.End()
	}()
	log = log.With(zap.String("channel", string(ch)))
	res = queue.ChannelResult{Channel: ch}

	if d.Guard.HasAlreadySent(ctx, it.TenantID, it.ShipmentKey(), trigger, ch) {
		res.Outcome = queue.OutcomeDuplicate
		return res
	}

	cfg, err := d.Resolver.Resolve(ctx, it.TenantID, ch)
	switch {
	case errors.Is(err, resolver.ErrCredentials):
		res.Outcome, res.Error = queue.OutcomeConfigError, err.Error()
		return res
	case err != nil:
		log.Warn("resolve provider config failed", zap.Error(err))
		res.Outcome, res.Error = queue.OutcomeProviderError, err.Error()
		return res
	case cfg == nil:
		res.Outcome = queue.OutcomeNoProvider
		return res
	}
	res.ProviderID = cfg.ProviderID

	p, ok := d.Providers.Lookup(ch, cfg.ProviderID)
	if !ok {
		res.Outcome, res.Error = queue.OutcomeConfigError, fmt.Sprintf("provider %q is not registered for %s", cfg.ProviderID, ch)
		d.writeLog(ctx, it, ch, trigger, "", cfg.ProviderID, res, nil, log)
		return res
	}

	c := d.Content.Build(ctx, it.TenantID, ch, trigger, vars)
	msg, recipient := d.message(it, ch, cfg, c, vars, trigger)
	if recipient == "" {
		res.Outcome, res.Error = queue.OutcomeValidationError, "missing recipient for "+string(ch)
		d.writeLog(ctx, it, ch, trigger, "", cfg.ProviderID, res, nil, log)
		return res
	}
	if ch == notification.ChannelEmail && validate.Var(recipient, "email") != nil {
		res.Outcome, res.Error = queue.OutcomeValidationError, fmt.Sprintf("invalid email address %q", recipient)
		d.writeLog(ctx, it, ch, trigger, recipient, cfg.ProviderID, res, nil, log)
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout())
	t0 := time.Now()
	out := providers.SafeSend(sendCtx, p, cfg, msg, log)
	sendLatency.WithLabelValues(cfg.ProviderID).Observe(time.Since(t0).Seconds())
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()

	if out.Success {
		res.Outcome, res.MessageID = queue.OutcomeSent, out.MessageID
	} else {
		kind := out.ErrorKind
		if kind == "" || timedOut {
			kind = providers.KindProvider
		}
		res.Outcome, res.Error = string(kind), out.Error
		if timedOut {
			res.Error = fmt.Sprintf("send timed out after %s: %s", d.sendTimeout(), out.Error)
		}
		log.Warn("send failed", zap.String("provider_id", cfg.ProviderID), zap.String("outcome", res.Outcome), zap.String("error", res.Error))
	}

	meta := map[string]any{"template_source": string(c.Source)}
	for k, v := range out.Metadata {
		meta[k] = v
	}
	d.writeLog(ctx, it, ch, trigger, recipient, cfg.ProviderID, res, meta, log)
	return res
}

// message builds the provider request and picks the recipient for ch.
func (d *Dispatcher) message(it *queue.Item, ch notification.Channel, cfg *notification.ProviderConfig, c content.Content, vars map[string]string, trigger string) (providers.Message, string) {
	p := it.Payload
	msg := providers.Message{
		Channel:   ch,
		Name:      p.RecipientName,
		Variables: vars,
		Event:     trigger,
		Timestamp: d.Clock.Now(),
	}
	switch ch {
	case notification.ChannelEmail:
		msg.To = p.RecipientEmail
		msg.Subject = c.Subject
		msg.HTML = c.Body
	case notification.ChannelSMS, notification.ChannelWhatsApp:
		msg.To = p.RecipientPhone
		msg.Text = c.Body
	case notification.ChannelWebhook:
		msg.To = cfg.Config["url"]
		msg.Event = c.Body
		data := make(map[string]any, len(vars)+1)
		for k, v := range vars {
			data[k] = v
		}
		data["occurred_at"] = p.OccurredAt
		msg.Data = data
	}
	return msg, msg.To
}

func (d *Dispatcher) writeLog(ctx context.Context, it *queue.Item, ch notification.Channel, trigger, recipient, providerID string, res queue.ChannelResult, meta map[string]any, log *zap.Logger) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta[notification.MetaTrigger] = trigger
	meta["queue_item_id"] = it.ID.String()
	if res.MessageID != "" {
		meta["message_id"] = res.MessageID
	}
	status := notification.LogSent
	if res.Outcome != queue.OutcomeSent {
		status = notification.LogFailed
		meta["error_kind"] = res.Outcome
	}
	entry := &notification.Log{
		TenantID:     it.TenantID,
		ShipmentID:   it.ShipmentID,
		Channel:      ch,
		Recipient:    recipient,
		Status:       status,
		ProviderID:   providerID,
		Metadata:     meta,
		ErrorMessage: res.Error,
		SentAt:       d.Clock.Now(),
	}
	err := retry.Do(ctx, func() error { return d.Logs.Create(ctx, entry) },
		retry.StorePolicy("notification_log", log, func(err error) bool { return !errors.Is(err, context.Canceled) }))
	if err != nil {
		storeErrors.WithLabelValues("log").Inc()
		log.Error("write notification log failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (d *Dispatcher) sendTimeout() time.Duration {
	if d.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return d.SendTimeout
}
