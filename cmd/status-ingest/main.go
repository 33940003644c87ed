package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Shipnotify/internal/config/status-ingest"
	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/notify/enqueue"
	"github.com/NordCoder/Shipnotify/internal/obs"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	"github.com/NordCoder/Shipnotify/internal/repository/kafka"
	pg "github.com/NordCoder/Shipnotify/internal/repository/postgres"
	redisx "github.com/NordCoder/Shipnotify/internal/repository/redis"
	ingest "github.com/NordCoder/Shipnotify/internal/services/status-ingest"
)

func wiring(ctx context.Context, db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) (*ingest.Controller, func()) {
	var settings notification.SettingsReader = pg.NewSettingsRepo(db)
	cleanup := func() {}
	if cfg.Redis.Enabled() {
		client, err := redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			l.Warn("redis unavailable, settings cache disabled", zap.Error(err))
		} else {
			settings = redisx.NewSettingsCache(settings, client, cfg.Redis.TTL, cfg.Redis.Prefix, l)
			cleanup = func() { _ = client.Close() }
		}
	}

	q := pg.NewQueueRepo(db)
	uc := enqueue.New(q, pg.NewTransactor(db, l), settings, l)
	uc.Window = cfg.Queue.DebounceWindow
	uc.MaxRetries = cfg.Queue.MaxRetries

	return &ingest.Controller{Log: l, Sub: cons, UC: uc, Policy: retry.DefaultKafkaPolicy(l)}, cleanup
}

func main() {
	configPath := flag.String("config", "config/status-ingest.yaml", "path to YAML config")
	flag.Parse()

	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting status-ingest",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("group_id", cfg.In.GroupID),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// metrics
	ms := obs.BootstrapOpsServer(cfg.Server.MetricsAddr, obs.NewOpsRouter(db.Ping, nil), l)

	// kafka
	consCfg := cfg.In.AsConsumerConfig()
	consCfg.Logger = l
	cons := kafka.BootstrapConsumer(rootCtx, consCfg, l)
	defer func() { _ = cons.Close() }()

	// start
	ctrl, cleanup := wiring(rootCtx, db, cfg, cons, l)
	defer cleanup()
	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	// main loop
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
