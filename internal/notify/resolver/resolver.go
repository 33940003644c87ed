// Package resolver picks the active provider configuration for a tenant and
// channel, falling back to the global default.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

// ErrCredentials marks a config whose credentials could not be opened.
var ErrCredentials = errors.New("resolver: credentials unreadable")

type Opener interface {
	Open(raw string) (map[string]string, error)
}

type Resolver struct {
	Configs notification.ConfigRepo
	Secrets Opener
	Log     *zap.Logger
}

func New(configs notification.ConfigRepo, secrets Opener, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Configs: configs, Secrets: secrets, Log: log}
}

// Resolve returns the tenant row, else the global row, else nil, nil.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, channel notification.Channel) (*notification.ProviderConfig, error) {
	cfg, err := r.Configs.FindActive(ctx, &tenantID, channel)
	if err != nil {
		return nil, fmt.Errorf("tenant config: %w", err)
	}
	if cfg == nil {
		cfg, err = r.Configs.FindActive(ctx, nil, channel)
		if err != nil {
			return nil, fmt.Errorf("global config: %w", err)
		}
	}
	if cfg == nil || !cfg.IsActive {
		return nil, nil
	}

	if cfg.Credentials == nil && cfg.RawCredentials != "" {
		creds, err := r.open(cfg.RawCredentials)
		if err != nil {
			r.Log.Warn("credentials unreadable",
				zap.Int64("config_id", cfg.ID),
				zap.String("channel", string(channel)),
				zap.String("provider_id", cfg.ProviderID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: config %d: %v", ErrCredentials, cfg.ID, err)
		}
		out := *cfg
		out.Credentials = creds
		cfg = &out
	}
	return cfg, nil
}

func (r *Resolver) open(raw string) (map[string]string, error) {
	if r.Secrets == nil {
		return nil, errors.New("no credential opener configured")
	}
	return r.Secrets.Open(raw)
}
