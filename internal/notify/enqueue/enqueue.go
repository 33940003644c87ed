// Package enqueue turns shipment status changes into debounced queue rows.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/domain/shipment"
	"github.com/NordCoder/Shipnotify/internal/obs"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
)

const DefaultWindow = 30 * time.Second

var (
	ErrInvalidEvent  = errors.New("enqueue: invalid event")
	ErrUnknownStatus = errors.New("enqueue: unknown shipment status")
)

var validate = validator.New()

var enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_enqueue_total",
	Help: "Status-change events by enqueue result.",
}, []string{"result"})

// Event is a shipment status change from the shipment-sync side.
type Event struct {
	ShipmentID        string            `json:"shipment_id" validate:"required"`
	TenantID          string            `json:"tenant_id" validate:"required"`
	NewStatus         string            `json:"new_status" validate:"required"`
	OldStatus         string            `json:"old_status,omitempty"`
	TrackingCode      string            `json:"tracking_code,omitempty"`
	RecipientEmail    string            `json:"recipient_email,omitempty"`
	RecipientPhone    string            `json:"recipient_phone,omitempty"`
	RecipientName     string            `json:"recipient_name,omitempty"`
	Location          string            `json:"location,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	Channel           string            `json:"channel,omitempty" validate:"omitempty,oneof=email sms whatsapp webhook"`
	OccurredAt        time.Time         `json:"occurred_at,omitempty"`
}

type Result string

const (
	ResultEnqueued        Result = "enqueued"
	ResultDebounced       Result = "debounced"
	ResultTriggerDisabled Result = "trigger_disabled"
)

type Outcome struct {
	Result Result    `json:"result"`
	ItemID uuid.UUID `json:"item_id,omitempty"`
	Status string    `json:"status"`
}

type Enqueuer struct {
	Queue      queue.Repository
	Tx         queue.Transactor
	Settings   notification.SettingsReader
	Clock      notification.Clock
	Window     time.Duration
	MaxRetries int
	Log        *zap.Logger
}

func New(q queue.Repository, tx queue.Transactor, settings notification.SettingsReader, log *zap.Logger) *Enqueuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enqueuer{
		Queue:      q,
		Tx:         tx,
		Settings:   settings,
		Clock:      notification.SystemClock{},
		Window:     DefaultWindow,
		MaxRetries: queue.DefaultMaxRetries,
		Log:        log,
	}
}

func (e *Enqueuer) window() time.Duration {
	if e.Window <= 0 {
		return DefaultWindow
	}
	return e.Window
}

func (e *Enqueuer) maxRetries() int {
	if e.MaxRetries <= 0 {
		return queue.DefaultMaxRetries
	}
	return e.MaxRetries
}

// EnqueueStatusChange collapses ev into the single pending row for its
// shipment, or inserts one. A status the tenant did not opt into is a
// silent no-op.
func (e *Enqueuer) EnqueueStatusChange(ctx context.Context, ev Event) (Outcome, error) {
	if err := validate.Struct(ev); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	status, ok := shipment.Normalize(ev.NewStatus)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStatus, ev.NewStatus)
	}
	log := obs.WithTrace(ctx, e.Log).With(
		zap.String("tenant_id", ev.TenantID),
		zap.String("shipment_id", ev.ShipmentID),
		zap.String("status", string(status)),
	)

	settings, err := e.Settings.GetSettings(ctx, ev.TenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load settings: %w", err)
	}
	if !settings.TriggerEnabled(string(status)) {
		enqueued.WithLabelValues(string(ResultTriggerDisabled)).Inc()
		log.Debug("trigger disabled, not enqueued")
		return Outcome{Result: ResultTriggerDisabled, Status: string(status)}, nil
	}

	payload := e.payload(ev, status)
	var out Outcome
	err = retry.Do(ctx, func() error {
		var err error
		out, err = e.upsert(ctx, ev, status, payload)
		return err
	}, retry.StorePolicy("enqueue", log, func(err error) bool {
		return errors.Is(err, queue.ErrPendingExists) || errors.Is(err, queue.ErrNotClaimed)
	}))
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue: %w", err)
	}

	enqueued.WithLabelValues(string(out.Result)).Inc()
	log.Debug("status change queued", zap.String("result", string(out.Result)), zap.Stringer("item_id", out.ItemID))
	return out, nil
}

func (e *Enqueuer) upsert(ctx context.Context, ev Event, status shipment.Status, payload queue.Payload) (Outcome, error) {
	var out Outcome
	err := e.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := e.Clock.Now()
		due := now.Add(e.window())

		cur, err := e.Queue.FindPending(ctx, ev.TenantID, ev.ShipmentID)
		if err != nil {
			return err
		}
		if cur != nil {
			cur.EventType = string(status)
			cur.Channel = notification.Channel(ev.Channel)
			cur.Payload = payload
			cur.Priority = status.Priority()
			cur.ScheduledFor = due
			cur.UpdatedAt = now
			if err := e.Queue.ReplacePending(ctx, cur); err != nil {
				return err
			}
			out = Outcome{Result: ResultDebounced, ItemID: cur.ID, Status: string(status)}
			return nil
		}

		shipmentID := ev.ShipmentID
		it := &queue.Item{
			ID:           uuid.New(),
			TenantID:     ev.TenantID,
			ShipmentID:   &shipmentID,
			EventType:    string(status),
			Channel:      notification.Channel(ev.Channel),
			Payload:      payload,
			Status:       queue.StatusPending,
			Priority:     status.Priority(),
			ScheduledFor: due,
			MaxRetries:   e.maxRetries(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Queue.Insert(ctx, it); err != nil {
			return err
		}
		out = Outcome{Result: ResultEnqueued, ItemID: it.ID, Status: string(status)}
		return nil
	})
	return out, err
}

func (e *Enqueuer) payload(ev Event, status shipment.Status) queue.Payload {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = e.Clock.Now()
	}
	old := ev.OldStatus
	if st, ok := shipment.Normalize(old); ok {
		old = string(st)
	}
	return queue.Payload{
		TrackingCode:   ev.TrackingCode,
		NewStatus:      string(status),
		OldStatus:      old,
		RawStatus:      ev.NewStatus,
		RecipientEmail: ev.RecipientEmail,
		RecipientPhone: ev.RecipientPhone,
		RecipientName:  ev.RecipientName,
		Location:       ev.Location,
		Variables:      ev.TemplateVariables,
		OccurredAt:     occurred,
	}
}
