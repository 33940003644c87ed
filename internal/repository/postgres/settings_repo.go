package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var _ notification.SettingsReader = (*SettingsRepoImpl)(nil)

type SettingsRepoImpl struct{ db *DB }

func NewSettingsRepo(db *DB) *SettingsRepoImpl { return &SettingsRepoImpl{db: db} }

const qSettingsGet = `
SELECT COALESCE(notification_triggers, '{}'), COALESCE(notification_channels, '{}')
FROM settings
WHERE tenant_id = $1;`

// GetSettings returns empty settings when the tenant has no row.
func (r *SettingsRepoImpl) GetSettings(ctx context.Context, tenantID string) (*notification.Settings, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		triggers []string
		channels []string
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qSettingsGet, tenantID).Scan(&triggers, &channels)
	if errors.Is(err, pgx.ErrNoRows) {
		return &notification.Settings{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	s := &notification.Settings{TenantID: tenantID, NotificationTriggers: notification.NormalizeTriggers(triggers)}
	for _, c := range channels {
		if ch, ok := notification.ParseChannel(c); ok {
			s.NotificationChannels = append(s.NotificationChannels, ch)
		}
	}
	return s, nil
}
