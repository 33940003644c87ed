// Package guard blocks a second successful send of the same trigger status
// on the same shipment and channel.
package guard

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/obs"
)

var (
	guardHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_guard_duplicates_total",
		Help: "Sends suppressed because the trigger was already delivered.",
	})
	guardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_guard_check_errors_total",
		Help: "Duplicate checks that failed and let the send proceed.",
	})
)

type Guard struct {
	Logs notification.LogRepo
	Log  *zap.Logger
}

func New(logs notification.LogRepo, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{Logs: logs, Log: log}
}

// HasAlreadySent is true iff a sent log exists for the tuple. A storage
// error counts as not sent.
func (g *Guard) HasAlreadySent(ctx context.Context, tenantID, shipmentID, trigger string, channel notification.Channel) bool {
	if shipmentID == "" || trigger == "" {
		return false
	}
	sent, err := g.Logs.HasSent(ctx, tenantID, shipmentID, channel, trigger)
	if err != nil {
		guardErrors.Inc()
		obs.WithTrace(ctx, g.Log).Warn("duplicate check failed, proceeding with send",
			zap.String("tenant_id", tenantID),
			zap.String("shipment_id", shipmentID),
			zap.String("channel", string(channel)),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return false
	}
	if sent {
		guardHits.Inc()
	}
	return sent
}
