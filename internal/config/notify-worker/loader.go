package notify_worker_config

import (
	common "github.com/NordCoder/Shipnotify/internal/config/common"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
)

func Load(path string) (*Config, error) {
	v, err := common.NewViper(path)
	if err != nil {
		return nil, err
	}
	common.SetDefaults(v, "notify-worker")

	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.poll_interval", "10s")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.send_timeout", "15s")
	v.SetDefault("worker.in_progress_ttl", "10m")
	v.SetDefault("worker.reclaim_every", "1m")
	v.SetDefault("worker.max_drain", 10)
	v.SetDefault("worker.debounce_window", "30s")
	v.SetDefault("worker.max_retries", 3)

	v.SetDefault("retention.max_age", "720h")
	v.SetDefault("retention.every", "1h")

	v.SetDefault("providers.http.timeout", "10s")
	v.SetDefault("providers.http.verify_tls", true)
	v.SetDefault("providers.http.user_agent", "shipnotify/1.0")
	v.SetDefault("providers.default_region", "US")

	v.SetDefault("secrets.credentials_key", "")

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.token_secret", "")
	v.SetDefault("server.graceful_timeout", "10s")

	v.SetDefault("outcomes.brokers", []string{})
	v.SetDefault("outcomes.topic", kafkax.TopicOutcomes)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.DB.DSN == "" {
		return nil, common.ErrConfig("db.dsn is required")
	}
	if cfg.Worker.BatchSize <= 0 || cfg.Worker.Concurrency <= 0 {
		return nil, common.ErrConfig("worker.batch_size and worker.concurrency must be positive")
	}
	return &cfg, nil
}
