package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var _ notification.SettingsReader = (*SettingsCache)(nil)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_settings_cache_total",
	Help: "Settings cache lookups by result (hit, miss, error).",
}, []string{"result"})

// SettingsCache is a read-through cache in front of the settings table.
// Redis failures fall back to the database.
type SettingsCache struct {
	next   notification.SettingsReader
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

func NewSettingsCache(next notification.SettingsReader, client redis.Cmdable, ttl time.Duration, prefix string, l *zap.Logger) *SettingsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "shipnotify:settings:"
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &SettingsCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: prefix,
		log:    l.With(zap.String("component", "settings-cache")),
	}
}

func (c *SettingsCache) key(tenantID string) string { return c.prefix + tenantID }

func (c *SettingsCache) GetSettings(ctx context.Context, tenantID string) (*notification.Settings, error) {
	raw, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	switch {
	case err == nil:
		var s notification.Settings
		if uerr := json.Unmarshal(raw, &s); uerr == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return &s, nil
		}
		c.log.Warn("settings cache decode failed", zap.String("tenant_id", tenantID))
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		c.log.Warn("settings cache get failed", zap.String("tenant_id", tenantID), zap.Error(err))
		cacheLookups.WithLabelValues("error").Inc()
	}

	s, err := c.next.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(s); merr == nil {
		if serr := c.client.Set(ctx, c.key(tenantID), b, c.ttl).Err(); serr != nil {
			c.log.Warn("settings cache set failed", zap.String("tenant_id", tenantID), zap.Error(serr))
		}
	}
	return s, nil
}

func (c *SettingsCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, c.key(tenantID)).Err()
}
