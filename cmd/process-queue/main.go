// Command process-queue runs one processQueue pass and prints the counts
// as JSON. Meant for cron.
package main

import (
	"context"
	"encoding/json"
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

func main() {
	configPath := flag.String("config", "config/notify-worker.yaml", "path to YAML config")
	limit := flag.Int("limit", 0, "max rows to process (default worker.batch_size)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *limit <= 0 {
		*limit = cfg.Worker.BatchSize
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	app, err := worker.Bootstrap(ctx, cfg, l)
	if err != nil {
		l.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close()

	stats, err := app.Dispatcher.ProcessQueue(ctx, *limit)
	if err != nil {
		l.Error("process queue", zap.Error(err))
		app.Close()
		os.Exit(1)
	}
	if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
		l.Error("write stats", zap.Error(err))
	}
}
