package status_ingest_config

import (
	"time"

	common "github.com/NordCoder/Shipnotify/internal/config/common"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
	pg "github.com/NordCoder/Shipnotify/internal/repository/postgres"
	redisx "github.com/NordCoder/Shipnotify/internal/repository/redis"
)

type KafkaIn struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	FromBeginning   bool     `mapstructure:"from_beginning"`
	HandlerAttempts int      `mapstructure:"handler_attempts"`
}

func (k KafkaIn) AsConsumerConfig() *kafkax.ConsumerConfig {
	return &kafkax.ConsumerConfig{
		Brokers:         k.Brokers,
		GroupID:         k.GroupID,
		Topic:           k.Topic,
		FromBeginning:   k.FromBeginning,
		HandlerAttempts: k.HandlerAttempts,
	}
}

type Queue struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	App    common.App    `mapstructure:"app"`
	Log    common.Log    `mapstructure:"log"`
	OTEL   common.OTEL   `mapstructure:"otel"`
	DB     pg.Config     `mapstructure:"db"`
	Redis  redisx.Config `mapstructure:"redis"`
	In     KafkaIn       `mapstructure:"kafka_in"`
	Queue  Queue         `mapstructure:"queue"`
	Server Server        `mapstructure:"server"`
}
