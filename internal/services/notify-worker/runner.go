package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/notify/dispatch"
	"github.com/NordCoder/Shipnotify/internal/obs"
)

type Processor interface {
	ProcessQueue(ctx context.Context, limit int) (dispatch.Stats, error)
}

// Maintenance is the part of the queue store the background loops use.
type Maintenance interface {
	ReclaimStale(ctx context.Context, stuckSince, now time.Time) (int64, error)
	PurgeFinished(ctx context.Context, finishedBefore time.Time) (int64, error)
}

type RunnerConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	InProgressTTL time.Duration
	ReclaimEvery  time.Duration
	Retention     time.Duration
	JanitorEvery  time.Duration
	// MaxDrain bounds back-to-back batches in one tick.
	MaxDrain int
}

var (
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "notify_worker_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mTickErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_worker_tick_errors_total", Help: "Ticks that failed to fetch the queue.",
	})
	mLastBatch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_worker_last_batch_size", Help: "Rows processed by the last batch.",
	})
	mReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_worker_reclaimed_total", Help: "Stale processing rows reset to pending.",
	})
	mPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_worker_purged_total", Help: "Finished rows removed by retention.",
	})
)

type Runner struct {
	log   *zap.Logger
	proc  Processor
	store Maintenance
	clock notification.Clock
	cfg   RunnerConfig
}

func NewRunner(log *zap.Logger, proc Processor, store Maintenance, cfg RunnerConfig) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = dispatch.DefaultBatch
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.InProgressTTL <= 0 {
		cfg.InProgressTTL = 10 * time.Minute
	}
	if cfg.ReclaimEvery <= 0 {
		cfg.ReclaimEvery = time.Minute
	}
	if cfg.JanitorEvery <= 0 {
		cfg.JanitorEvery = time.Hour
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = 10
	}
	return &Runner{
		log:   obs.Component(log, "notify-worker.runner"),
		proc:  proc,
		store: store,
		clock: notification.SystemClock{},
		cfg:   cfg,
	}
}

// Run blocks until ctx is done. Retention is skipped when cfg.Retention is 0.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("runner started",
		zap.Duration("poll", r.cfg.PollInterval),
		zap.Int("batch", r.cfg.BatchSize),
		zap.Duration("in_progress_ttl", r.cfg.InProgressTTL),
		zap.Duration("retention", r.cfg.Retention),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(ctx, r.cfg.PollInterval, r.Tick) })
	g.Go(func() error { return every(ctx, r.cfg.ReclaimEvery, r.Reclaim) })
	if r.cfg.Retention > 0 {
		g.Go(func() error { return every(ctx, r.cfg.JanitorEvery, r.Purge) })
	}
	err := g.Wait()
	r.log.Info("runner stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Tick processes batches until one comes back short or MaxDrain is hit.
func (r *Runner) Tick(ctx context.Context) {
	t0 := time.Now()
	defer func() { mTickDur.Observe(time.Since(t0).Seconds()) }()

	ctx, span := otel.Tracer("notify-worker.runner").Start(ctx, "worker.tick")
	defer span.End()

	total := 0
	for i := 0; i < r.cfg.MaxDrain && ctx.Err() == nil; i++ {
		stats, err := r.proc.ProcessQueue(ctx, r.cfg.BatchSize)
		if err != nil {
			span.RecordError(err)
			mTickErr.Inc()
			obs.WithTrace(ctx, r.log).Error("process queue failed", zap.Error(err))
			return
		}
		mLastBatch.Set(float64(stats.Processed))
		total += stats.Processed
		if stats.Processed < r.cfg.BatchSize {
			break
		}
	}
	span.SetAttributes(attribute.Int("rows.processed", total))
}

func (r *Runner) Reclaim(ctx context.Context) {
	now := r.clock.Now()
	n, err := r.store.ReclaimStale(ctx, now.Add(-r.cfg.InProgressTTL), now)
	if err != nil {
		r.log.Error("reclaim stale rows failed", zap.Error(err))
		return
	}
	if n > 0 {
		mReclaimed.Add(float64(n))
		r.log.Warn("reclaimed stale rows", zap.Int64("rows", n))
	}
}

func (r *Runner) Purge(ctx context.Context) {
	n, err := r.store.PurgeFinished(ctx, r.clock.Now().Add(-r.cfg.Retention))
	if err != nil {
		r.log.Error("purge finished rows failed", zap.Error(err))
		return
	}
	if n > 0 {
		mPurged.Add(float64(n))
		r.log.Info("purged finished rows", zap.Int64("rows", n))
	}
}
