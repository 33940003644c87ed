package notify_worker_config

import (
	"time"

	common "github.com/NordCoder/Shipnotify/internal/config/common"
	"github.com/NordCoder/Shipnotify/internal/providers"
	pg "github.com/NordCoder/Shipnotify/internal/repository/postgres"
	redisx "github.com/NordCoder/Shipnotify/internal/repository/redis"
)

type Worker struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Concurrency    int           `mapstructure:"concurrency"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	InProgressTTL  time.Duration `mapstructure:"in_progress_ttl"`
	ReclaimEvery   time.Duration `mapstructure:"reclaim_every"`
	MaxDrain       int           `mapstructure:"max_drain"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type Retention struct {
	MaxAge time.Duration `mapstructure:"max_age"`
	Every  time.Duration `mapstructure:"every"`
}

type Providers struct {
	HTTP          providers.HTTPConfig `mapstructure:"http"`
	DefaultRegion string               `mapstructure:"default_region"`
}

type Secrets struct {
	// CredentialsKey is a base64 32-byte secretbox key.
	CredentialsKey string `mapstructure:"credentials_key"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	TokenSecret     string        `mapstructure:"token_secret"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Outcomes struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Enabled is false when no brokers are configured.
func (o Outcomes) Enabled() bool { return len(o.Brokers) > 0 && o.Topic != "" }

type Config struct {
	App       common.App    `mapstructure:"app"`
	Log       common.Log    `mapstructure:"log"`
	OTEL      common.OTEL   `mapstructure:"otel"`
	DB        pg.Config     `mapstructure:"db"`
	Redis     redisx.Config `mapstructure:"redis"`
	Worker    Worker        `mapstructure:"worker"`
	Retention Retention     `mapstructure:"retention"`
	Providers Providers     `mapstructure:"providers"`
	Secrets   Secrets       `mapstructure:"secrets"`
	Server    Server        `mapstructure:"server"`
	Outcomes  Outcomes      `mapstructure:"outcomes"`
}
