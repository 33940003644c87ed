package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "github.com/NordCoder/Shipnotify/internal/config/notify-worker"
	"github.com/NordCoder/Shipnotify/internal/obs"
	worker "github.com/NordCoder/Shipnotify/internal/services/notify-worker"
)

func wiring(app *worker.App, cfg *config.Config, l *zap.Logger) (*worker.Runner, *worker.API) {
	runner := worker.NewRunner(l, app.Dispatcher, app.Queue, worker.RunnerConfig{
		BatchSize:     cfg.Worker.BatchSize,
		PollInterval:  cfg.Worker.PollInterval,
		InProgressTTL: cfg.Worker.InProgressTTL,
		ReclaimEvery:  cfg.Worker.ReclaimEvery,
		Retention:     cfg.Retention.MaxAge,
		JanitorEvery:  cfg.Retention.Every,
		MaxDrain:      cfg.Worker.MaxDrain,
	})
	api := &worker.API{
		Proc:     app.Dispatcher,
		Enqueuer: app.Enqueuer,
		Logs:     app.Logs,
		Secret:   []byte(cfg.Server.TokenSecret),
		Batch:    cfg.Worker.BatchSize,
		Log:      l,
	}
	return runner, api
}

func main() {
	configPath := flag.String("config", "config/notify-worker.yaml", "path to YAML config")
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

	l.Info("starting notify-worker",
		zap.Int("batch_size", cfg.Worker.BatchSize),
		zap.Duration("poll_interval", cfg.Worker.PollInterval),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("auth", cfg.Server.TokenSecret != ""),
	)
	if cfg.Server.TokenSecret == "" {
		l.Warn("server.token_secret is empty, API endpoints are unauthenticated")
	}

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// core
	app, err := worker.Bootstrap(rootCtx, cfg, l)
	if err != nil {
		l.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close()

	runner, api := wiring(app, cfg, l)

	// ops server
	srv := obs.BootstrapOpsServer(cfg.Server.Addr, obs.NewOpsRouter(app.DB.Ping, api.Mount), l)

	// start
	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.Run(rootCtx)
	}()

	// main loop
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("runner error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	l.Info("bye")
}
