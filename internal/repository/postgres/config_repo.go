package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var _ notification.ConfigRepo = (*ConfigRepoImpl)(nil)

type ConfigRepoImpl struct{ db *DB }

func NewConfigRepo(db *DB) *ConfigRepoImpl { return &ConfigRepoImpl{db: db} }

const configCols = `id, tenant_id, channel, provider_id, COALESCE(credentials, ''), config, is_active,
       created_at, updated_at`

const (
	qConfigTenant = `
SELECT ` + configCols + `
FROM tenant_notification_configs
WHERE tenant_id = $1 AND channel = $2 AND is_active
ORDER BY updated_at DESC
LIMIT 1;`

	qConfigGlobal = `
SELECT ` + configCols + `
FROM tenant_notification_configs
WHERE tenant_id IS NULL AND channel = $1 AND is_active
ORDER BY updated_at DESC
LIMIT 1;`
)

func (r *ConfigRepoImpl) FindActive(ctx context.Context, tenantID *string, channel notification.Channel) (*notification.ProviderConfig, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var row pgx.Row
	if tenantID == nil {
		row = eq.QueryRow(ctx, qConfigGlobal, string(channel))
	} else {
		row = eq.QueryRow(ctx, qConfigTenant, *tenantID, string(channel))
	}

	var (
		c      notification.ProviderConfig
		ch     string
		config []byte
	)
	if err := row.Scan(&c.ID, &c.TenantID, &ch, &c.ProviderID, &c.RawCredentials, &config,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan notification config: %w", err)
	}
	c.Channel = notification.Channel(ch)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	return &c, nil
}
