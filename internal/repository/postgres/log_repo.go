package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var _ notification.LogRepo = (*LogRepoImpl)(nil)

type LogRepoImpl struct{ db *DB }

func NewLogRepo(db *DB) *LogRepoImpl { return &LogRepoImpl{db: db} }

const (
	qLogInsert = `
INSERT INTO notification_logs (tenant_id, shipment_id, channel, recipient, status, provider_id,
                               metadata, error_message, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
RETURNING id, sent_at;`

	qLogHasSent = `
SELECT EXISTS (
    SELECT 1 FROM notification_logs
    WHERE tenant_id = $1 AND shipment_id = $2 AND channel = $3
      AND status = 'sent' AND metadata->>'trigger' = $4
);`

	qLogByShipment = `
SELECT id, tenant_id, shipment_id, channel, recipient, status, provider_id, metadata,
       COALESCE(error_message, ''), sent_at
FROM notification_logs
WHERE tenant_id = $1 AND shipment_id = $2
ORDER BY sent_at DESC, id DESC
LIMIT $3;`
)

func (r *LogRepoImpl) Create(ctx context.Context, l *notification.Log) error {
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qLogInsert,
		l.TenantID,
		l.ShipmentID,
		string(l.Channel),
		l.Recipient,
		string(l.Status),
		l.ProviderID,
		meta,
		nullString(l.ErrorMessage),
		nullTime(l.SentAt),
	).Scan(&l.ID, &l.SentAt); err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func (r *LogRepoImpl) HasSent(ctx context.Context, tenantID, shipmentID string, channel notification.Channel, trigger string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qLogHasSent, tenantID, shipmentID, string(channel), trigger).Scan(&ok); err != nil {
		return false, fmt.Errorf("has sent: %w", err)
	}
	return ok, nil
}

func (r *LogRepoImpl) ListByShipment(ctx context.Context, tenantID, shipmentID string, limit int) ([]*notification.Log, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qLogByShipment, tenantID, shipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Log, 0, limit)
	for rows.Next() {
		var (
			l       notification.Log
			channel string
			status  string
			meta    []byte
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ShipmentID, &channel, &l.Recipient, &status,
			&l.ProviderID, &meta, &l.ErrorMessage, &l.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		l.Channel = notification.Channel(channel)
		l.Status = notification.LogStatus(status)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
