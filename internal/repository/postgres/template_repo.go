package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var _ notification.TemplateRepo = (*TemplateRepoImpl)(nil)

type TemplateRepoImpl struct{ db *DB }

func NewTemplateRepo(db *DB) *TemplateRepoImpl { return &TemplateRepoImpl{db: db} }

const (
	qTemplateTenant = `
SELECT id, tenant_id, channel, event_type, COALESCE(subject, ''), body, is_active
FROM notification_templates
WHERE tenant_id = $1 AND channel = $2 AND event_type = $3 AND is_active
ORDER BY id DESC
LIMIT 1;`

	qTemplateGlobal = `
SELECT id, tenant_id, channel, event_type, COALESCE(subject, ''), body, is_active
FROM notification_templates
WHERE tenant_id IS NULL AND channel = $1 AND event_type = $2 AND is_active
ORDER BY id DESC
LIMIT 1;`
)

// FindActive returns nil, nil when no active template matches.
func (r *TemplateRepoImpl) FindActive(ctx context.Context, tenantID *string, channel notification.Channel, eventType string) (*notification.Template, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var row pgx.Row
	if tenantID == nil {
		row = eq.QueryRow(ctx, qTemplateGlobal, string(channel), eventType)
	} else {
		row = eq.QueryRow(ctx, qTemplateTenant, *tenantID, string(channel), eventType)
	}

	var (
		t  notification.Template
		ch string
	)
	if err := row.Scan(&t.ID, &t.TenantID, &ch, &t.EventType, &t.Subject, &t.Body, &t.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.Channel = notification.Channel(ch)
	return &t, nil
}
