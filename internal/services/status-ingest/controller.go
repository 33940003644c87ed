// Package ingest feeds shipment status changes from Kafka into the
// notification queue.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/notify/enqueue"
	"github.com/NordCoder/Shipnotify/internal/obs"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
)

// StatusChange is the shipment-sync message. Status fields carry the raw
// carrier strings.
type StatusChange struct {
	ShipmentID        string            `json:"shipment_id"`
	TenantID          string            `json:"tenant_id"`
	TrackingCode      string            `json:"tracking_code"`
	NewStatus         string            `json:"new_status"`
	OldStatus         string            `json:"old_status"`
	RecipientEmail    string            `json:"recipient_email"`
	RecipientPhone    string            `json:"recipient_phone"`
	RecipientName     string            `json:"recipient_name"`
	Location          string            `json:"location"`
	TemplateVariables map[string]string `json:"template_variables"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

func (m StatusChange) Event() enqueue.Event {
	return enqueue.Event{
		ShipmentID:        m.ShipmentID,
		TenantID:          m.TenantID,
		NewStatus:         m.NewStatus,
		OldStatus:         m.OldStatus,
		TrackingCode:      m.TrackingCode,
		RecipientEmail:    m.RecipientEmail,
		RecipientPhone:    m.RecipientPhone,
		RecipientName:     m.RecipientName,
		Location:          m.Location,
		TemplateVariables: m.TemplateVariables,
		OccurredAt:        m.OccurredAt,
	}
}

type Enqueuer interface {
	EnqueueStatusChange(ctx context.Context, ev enqueue.Event) (enqueue.Outcome, error)
}

type Subscriber interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

var ingested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "status_ingest_messages_total",
	Help: "Status-change messages by result.",
}, []string{"result"})

type Controller struct {
	Log    *zap.Logger
	Sub    Subscriber
	UC     Enqueuer
	Policy retry.Policy
}

func (c *Controller) Run(ctx context.Context) error {
	return c.Sub.Consume(ctx, kafkax.JSONHandler(c.Log, c.Handle))
}

// Handle enqueues one message. Malformed events are dropped; store errors
// are retried and then returned, which stops the consumer before the
// offset is committed.
func (c *Controller) Handle(ctx context.Context, _ []byte, m StatusChange) error {
	log := obs.WithTrace(ctx, c.Log)
	if log == nil {
		log = zap.NewNop()
	}

	var out enqueue.Outcome
	err := retry.Do(ctx, func() error {
		var err error
		out, err = c.UC.EnqueueStatusChange(ctx, m.Event())
		return err
	}, c.policy())

	switch {
	case errors.Is(err, enqueue.ErrInvalidEvent), errors.Is(err, enqueue.ErrUnknownStatus):
		ingested.WithLabelValues("dropped").Inc()
		log.Warn("status-change dropped",
			zap.String("tenant_id", m.TenantID),
			zap.String("shipment_id", m.ShipmentID),
			zap.String("raw_status", m.NewStatus),
			zap.Error(err),
		)
		return nil
	case err != nil:
		ingested.WithLabelValues("error").Inc()
		return err
	}
	ingested.WithLabelValues(string(out.Result)).Inc()
	return nil
}

func (c *Controller) policy() retry.Policy {
	p := c.Policy
	if p.Attempts == 0 {
		p = retry.DefaultKafkaPolicy(c.Log)
	}
	base := p.Retryable
	p.Retryable = func(err error) bool {
		if errors.Is(err, enqueue.ErrInvalidEvent) || errors.Is(err, enqueue.ErrUnknownStatus) {
			return false
		}
		if base == nil {
			return err != nil
		}
		return base(err)
	}
	return p
}
