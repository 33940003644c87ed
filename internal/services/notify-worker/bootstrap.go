package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	config "github.com/NordCoder/Shipnotify/internal/config/notify-worker"
	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/notify/dispatch"
	"github.com/NordCoder/Shipnotify/internal/notify/enqueue"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	"github.com/NordCoder/Shipnotify/internal/providers"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
	pg "github.com/NordCoder/Shipnotify/internal/repository/postgres"
	redisx "github.com/NordCoder/Shipnotify/internal/repository/redis"
	"github.com/NordCoder/Shipnotify/internal/secret"
)

// App is the wired dispatch core shared by the worker and the one-shot CLI.
type App struct {
	DB         *pg.DB
	Queue      *pg.QueueRepoImpl
	Logs       *pg.LogRepoImpl
	Dispatcher *dispatch.Dispatcher
	Enqueuer   *enqueue.Enqueuer

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config, l *zap.Logger) (*App, error) {
	box, err := secret.NewBox(cfg.Secrets.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}

	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app := &App{DB: db, closers: []func(){db.Close}}
	l.Info("db connected")

	var settings notification.SettingsReader = pg.NewSettingsRepo(db)
	if cfg.Redis.Enabled() {
		client, err := redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			l.Warn("redis unavailable, settings cache disabled", zap.Error(err))
		} else {
			app.closers = append(app.closers, func() { _ = client.Close() })
			settings = redisx.NewSettingsCache(settings, client, cfg.Redis.TTL, cfg.Redis.Prefix, l)
			l.Info("settings cache enabled", zap.String("redis_addr", cfg.Redis.Addr))
		}
	}

	var publisher dispatch.OutcomePublisher
	if cfg.Outcomes.Enabled() {
		prod := kafkax.BootstrapProducer(ctx, cfg.Outcomes.Brokers, cfg.Outcomes.Topic, l)
		app.closers = append(app.closers, func() { _ = prod.Close() })
		publisher = kafkax.NewOutcomeEvents(prod, retry.DefaultKafkaPolicy(l))
	}

	app.Queue = pg.NewQueueRepo(db)
	app.Logs = pg.NewLogRepo(db)

	registry := providers.NewDefaultRegistry(providers.Defaults{
		HTTP:          cfg.Providers.HTTP,
		DefaultRegion: cfg.Providers.DefaultRegion,
		Log:           l,
	})
	d := dispatch.New(dispatch.Deps{
		Queue:     app.Queue,
		Logs:      app.Logs,
		Configs:   pg.NewConfigRepo(db),
		Templates: pg.NewTemplateRepo(db),
		Settings:  settings,
		Secrets:   box,
		Providers: registry,
		Publisher: publisher,
		Log:       l,
	})
	d.Concurrency = cfg.Worker.Concurrency
	d.SendTimeout = cfg.Worker.SendTimeout
	app.Dispatcher = d

	enq := enqueue.New(app.Queue, pg.NewTransactor(db, l), settings, l)
	enq.Window = cfg.Worker.DebounceWindow
	enq.MaxRetries = cfg.Worker.MaxRetries
	app.Enqueuer = enq

	return app, nil
}
