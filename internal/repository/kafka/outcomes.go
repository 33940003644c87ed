package kafka

import (
	"context"

	"github.com/NordCoder/Shipnotify/internal/notify/dispatch"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
)

const (
	TopicStatusChanged = "shipments.status-changed"
	TopicOutcomes      = "notifications.outcomes"
)

var _ dispatch.OutcomePublisher = (*OutcomeEvents)(nil)

// OutcomeEvents publishes finished queue rows keyed by shipment.
type OutcomeEvents struct {
	p   *Producer
	pol retry.Policy
}

func NewOutcomeEvents(p *Producer, pol retry.Policy) *OutcomeEvents {
	return &OutcomeEvents{p: p, pol: pol}
}

func (e *OutcomeEvents) PublishOutcome(ctx context.Context, o dispatch.Outcome) error {
	key := o.TenantID + "/" + o.ShipmentID
	if o.ShipmentID == "" {
		key = o.ItemID
	}
	return retry.Do(ctx, func() error {
		return e.p.PublishJSON(ctx, []byte(key), o)
	}, e.pol)
}
