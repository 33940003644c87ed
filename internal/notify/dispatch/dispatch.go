// Package dispatch drains due queue rows: claim, fan out over channels,
// send through the provider registry and apply the retry schedule.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/notify/content"
	"github.com/NordCoder/Shipnotify/internal/notify/guard"
	"github.com/NordCoder/Shipnotify/internal/notify/resolver"
	"github.com/NordCoder/Shipnotify/internal/obs"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	"github.com/NordCoder/Shipnotify/internal/providers"
)

const (
	DefaultBatch       = 50
	DefaultConcurrency = 4
	DefaultSendTimeout = 15 * time.Second
)

const (
	ReasonTriggerDisabled = "skipped: trigger disabled"
	ReasonNoProviders     = "skipped: no active providers"
	ReasonSuperseded      = "superseded by a newer pending event"
)

var (
	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dispatch_rows_total",
		Help: "Finished queue rows by result.",
	}, []string{"result"})
	channelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dispatch_channel_total",
		Help: "Channel attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	claimLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_dispatch_claim_lost_total",
		Help: "Rows another worker claimed first.",
	})
	sendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notify_provider_send_seconds",
		Help:    "Provider send latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	batchDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_dispatch_batch_duration_seconds",
		Help:    "ProcessQueue duration.",
		Buckets: prometheus.DefBuckets,
	})
	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dispatch_store_errors_total",
		Help: "Queue or log writes that failed during dispatch.",
	}, []string{"op"})
)

// Stats are the counts of one ProcessQueue call. Skipped rows are
// completed without a send.
type Stats struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
}

func (s *Stats) add(result string) {
	s.Processed++
	switch result {
	case queue.ResultCompleted:
		s.Completed++
	case queue.ResultSkipped:
		s.Skipped++
	case queue.ResultRetried:
		s.Retried++
	case queue.ResultFailed:
		s.Failed++
	}
}

// Outcome is published once per finished row.
type Outcome struct {
	ItemID     string                `json:"item_id"`
	TenantID   string                `json:"tenant_id"`
	ShipmentID string                `json:"shipment_id,omitempty"`
	EventType  string                `json:"event_type"`
	Result     string                `json:"result"`
	Reason     string                `json:"reason,omitempty"`
	RetryCount int                   `json:"retry_count"`
	Channels   []queue.ChannelResult `json:"channels,omitempty"`
	At         time.Time             `json:"at"`
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o Outcome) error
}

type Dispatcher struct {
	Queue     queue.Repository
	Logs      notification.LogRepo
	Settings  notification.SettingsReader
	Resolver  *resolver.Resolver
	Guard     *guard.Guard
	Content   *content.Builder
	Providers *providers.Registry
	Backoff   retry.Backoff
	Clock     notification.Clock
	Publisher OutcomePublisher

	Concurrency int
	SendTimeout time.Duration

	Log *zap.Logger
}

type Deps struct {
	Queue     queue.Repository
	Logs      notification.LogRepo
	Configs   notification.ConfigRepo
	Templates notification.TemplateRepo
	Settings  notification.SettingsReader
	Secrets   resolver.Opener
	Providers *providers.Registry
	Publisher OutcomePublisher
	Log       *zap.Logger
}

func New(d Deps) *Dispatcher {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Queue:       d.Queue,
		Logs:        d.Logs,
		Settings:    d.Settings,
		Resolver:    resolver.New(d.Configs, d.Secrets, log),
		Guard:       guard.New(d.Logs, log),
		Content:     content.NewBuilder(d.Templates, log),
		Providers:   d.Providers,
		Backoff:     retry.QueueBackoff,
		Clock:       notification.SystemClock{},
		Publisher:   d.Publisher,
		Concurrency: DefaultConcurrency,
		SendTimeout: DefaultSendTimeout,
		Log:         obs.Component(log, "dispatch"),
	}
}

var tracer = otel.Tracer("notify.dispatch")

// ProcessQueue handles up to limit due rows. A row error never aborts the
// batch; only a failed fetch is returned.
func (d *Dispatcher) ProcessQueue(ctx context.Context, limit int) (Stats, error) {
	if limit <= 0 {
		limit = DefaultBatch
	}
	t0 := time.Now()
	defer func() { batchDur.Observe(time.Since(t0).Seconds()) }()

	ctx, span := tracer.Start(ctx, "dispatch.process_queue", trace.WithAttributes(attribute.Int("batch.limit", limit)))
	defer span.End()

	items, err := d.Queue.FetchDue(ctx, d.Clock.Now(), limit)
	if err != nil {
		span.RecordError(err)
		return Stats{}, fmt.Errorf("fetch due: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.size", len(items)))

	var (
		mu    sync.Mutex
		stats Stats
	)
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, it := range items {
		g.Go(func() error {
			result, ok := d.processRow(ctx, it)
			if ok {
				mu.Lock()
				stats.add(result)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("rows.processed", stats.Processed),
		attribute.Int("rows.failed", stats.Failed),
	)
	if stats.Processed > 0 {
		obs.WithTrace(ctx, d.Log).Info("queue processed",
			zap.Int("processed", stats.Processed),
			zap.Int("completed", stats.Completed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}

type verdict int

const (
	verdictComplete verdict = iota
	verdictSkip
	verdictRetry
	verdictFail
)

// processRow returns the row result and whether this worker claimed it.
func (d *Dispatcher) processRow(ctx context.Context, it *queue.Item) (string, bool) {
	log := obs.WithTrace(ctx, d.Log).With(
		zap.Stringer("item_id", it.ID),
		zap.String("tenant_id", it.TenantID),
		zap.String("shipment_id", it.ShipmentKey()),
		zap.String("event", it.EventType),
	)

	ok, err := d.Queue.Claim(ctx, it.ID, d.Clock.Now())
	if err != nil {
		storeErrors.WithLabelValues("claim").Inc()
		log.Error("claim failed", zap.Error(err))
		return "", false
	}
	if !ok {
		claimLost.Inc()
		log.Debug("row claimed elsewhere")
		return "", false
	}
	it.Status = queue.StatusProcessing

	ctx, span := tracer.Start(ctx, "dispatch.row", trace.WithAttributes(
		attribute.String("queue.item_id", it.ID.String()),
		attribute.String("tenant.id", it.TenantID),
		attribute.String("event.type", it.EventType),
	))
	defer span.End()

	v, channels, reason := d.evaluate(ctx, it, log)
	result := d.finish(ctx, it, v, channels, reason, log)
	span.SetAttributes(attribute.String("row.result", result))
	rowsTotal.WithLabelValues(result).Inc()
	return result, true
}

// evaluate runs the row and recovers a panic into a retryable failure.
func (d *Dispatcher) evaluate(ctx context.Context, it *queue.Item, log *zap.Logger) (v verdict, channels []queue.ChannelResult, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("row panic", zap.Any("panic", rec), zap.Stack("stack"))
			v, channels, reason = verdictRetry, nil, fmt.Sprintf("internal error: %v", rec)
		}
	}()

	settings, err := d.Settings.GetSettings(ctx, it.TenantID)
	if err != nil {
		log.Warn("settings unavailable", zap.Error(err))
		return verdictRetry, nil, fmt.Sprintf("internal error: load settings: %v", err)
	}
	trigger := it.EventType
	if !settings.TriggerEnabled(trigger) {
		return verdictSkip, nil, ReasonTriggerDisabled
	}

	targets := settings.EnabledChannels()
	if it.Channel != "" {
		targets = []notification.Channel{it.Channel}
	}
	vars := content.Variables(it)
	for _, ch := range targets {
		res := d.attempt(ctx, it, ch, trigger, vars, log)
		channelTotal.WithLabelValues(string(ch), res.Outcome).Inc()
		channels = append(channels, res)
	}
	v, reason = aggregate(channels)
	return v, channels, reason
}

func aggregate(channels []queue.ChannelResult) (verdict, string) {
	var attempted, delivered, retryable int
	var lastErr string
	for _, c := range channels {
		if c.Outcome == queue.OutcomeNoProvider {
			continue
		}
		attempted++
		switch {
		case c.Outcome == queue.OutcomeSent || c.Outcome == queue.OutcomeDuplicate:
			delivered++
		case c.Retryable():
			retryable++
			lastErr = c.Error
		default:
			lastErr = c.Error
		}
	}
	switch {
	case attempted == 0:
		return verdictSkip, ReasonNoProviders
	case delivered > 0:
		return verdictComplete, ""
	case retryable > 0:
		return verdictRetry, lastErr
	default:
		return verdictFail, lastErr
	}
}

// finish persists the verdict and reports the row result.
func (d *Dispatcher) finish(ctx context.Context, it *queue.Item, v verdict, channels []queue.ChannelResult, reason string, log *zap.Logger) string {
	now := d.Clock.Now()
	var result string
	switch v {
	case verdictComplete:
		it.Status, result = queue.StatusCompleted, queue.ResultCompleted
	case verdictSkip:
		it.Status, result = queue.StatusCompleted, queue.ResultSkipped
	case verdictRetry:
		next := it.RetryCount + 1
		it.RetryCount = next
		if next < it.MaxRetries {
			it.Status, result = queue.StatusPending, queue.ResultRetried
			it.ScheduledFor = now.Add(d.backoff().Next(next))
		} else {
			it.Status, result = queue.StatusFailed, queue.ResultFailed
		}
	case verdictFail:
		it.RetryCount++
		it.Status, result = queue.StatusFailed, queue.ResultFailed
	}
	it.UpdatedAt = now
	it.AppendAttempt(queue.Attempt{At: now, Result: result, Reason: reason, Channels: channels})

	err := d.Queue.Finish(ctx, it)
	if errors.Is(err, queue.ErrPendingExists) {
		// a newer event for the shipment is already pending and will carry the latest payload
		it.Status, result = queue.StatusCompleted, queue.ResultSkipped
		it.ExecutionLog[len(it.ExecutionLog)-1].Result = result
		it.ExecutionLog[len(it.ExecutionLog)-1].Reason = ReasonSuperseded
		err = d.Queue.Finish(ctx, it)
	}
	if err != nil {
		storeErrors.WithLabelValues("finish").Inc()
		log.Error("finish row failed, left for reclaim", zap.String("result", result), zap.Error(err))
	}

	switch result {
	case queue.ResultFailed:
		log.Warn("row failed", zap.Int("retry_count", it.RetryCount), zap.String("reason", reason))
	case queue.ResultRetried:
		log.Info("row rescheduled", zap.Int("retry_count", it.RetryCount), zap.Time("scheduled_for", it.ScheduledFor), zap.String("reason", reason))
	default:
		log.Debug("row finished", zap.String("result", result), zap.String("reason", it.LastAttempt().Reason))
	}

	d.publish(ctx, it, result, channels, log)
	return result
}

func (d *Dispatcher) publish(ctx context.Context, it *queue.Item, result string, channels []queue.ChannelResult, log *zap.Logger) {
	if d.Publisher == nil {
		return
	}
	o := Outcome{
		ItemID:     it.ID.String(),
		TenantID:   it.TenantID,
		ShipmentID: it.ShipmentKey(),
		EventType:  it.EventType,
		Result:     result,
		Reason:     it.LastAttempt().Reason,
		RetryCount: it.RetryCount,
		Channels:   channels,
		At:         it.UpdatedAt,
	}
	if err := d.Publisher.PublishOutcome(ctx, o); err != nil {
		log.Warn("publish outcome failed", zap.Error(err))
	}
}

func (d *Dispatcher) backoff() retry.Backoff {
	if d.Backoff == nil {
		return retry.QueueBackoff
	}
	return d.Backoff
}
