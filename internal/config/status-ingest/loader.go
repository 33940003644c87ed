package status_ingest_config

import (
	common "github.com/NordCoder/Shipnotify/internal/config/common"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
)

func Load(path string) (*Config, error) {
	v, err := common.NewViper(path)
	if err != nil {
		return nil, err
	}
	common.SetDefaults(v, "status-ingest")

	v.SetDefault("kafka_in.brokers", []string{"kafka:9092"})
	v.SetDefault("kafka_in.topic", kafkax.TopicStatusChanged)
	v.SetDefault("kafka_in.group_id", "shipnotify-status-ingest")
	v.SetDefault("kafka_in.from_beginning", false)
	v.SetDefault("kafka_in.handler_attempts", kafkax.DefaultHandlerAttempts)

	v.SetDefault("queue.debounce_window", "30s")
	v.SetDefault("queue.max_retries", 3)

	v.SetDefault("server.metrics_addr", ":8091")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.DB.DSN == "" {
		return nil, common.ErrConfig("db.dsn is required")
	}
	if len(cfg.In.Brokers) == 0 || cfg.In.Topic == "" {
		return nil, common.ErrConfig("kafka_in.brokers and kafka_in.topic are required")
	}
	return &cfg, nil
}
