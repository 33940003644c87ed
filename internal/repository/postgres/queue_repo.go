package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
)

var _ queue.Repository = (*QueueRepoImpl)(nil)

type QueueRepoImpl struct{ db *DB }

func NewQueueRepo(db *DB) *QueueRepoImpl { return &QueueRepoImpl{db: db} }

const queueCols = `id, tenant_id, shipment_id, event_type, channel, payload, status, priority,
       scheduled_for, retry_count, max_retries, execution_log, created_at, updated_at`

const (
	qQueueGet = `
SELECT ` + queueCols + `
FROM notification_queue
WHERE id = $1;`

	qQueueFindPending = `
SELECT ` + queueCols + `
FROM notification_queue
WHERE tenant_id = $1 AND shipment_id = $2 AND status = 'pending'
FOR UPDATE;`

	qQueueInsert = `
INSERT INTO notification_queue (id, tenant_id, shipment_id, event_type, channel, payload, status,
                                priority, scheduled_for, retry_count, max_retries, execution_log,
                                created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, 0, $9, $10, $11, $11);`

	qQueueReplacePending = `
UPDATE notification_queue
SET event_type = $2, payload = $3, priority = $4, scheduled_for = $5,
    retry_count = 0, updated_at = $6, channel = $7
WHERE id = $1 AND status = 'pending';`

	qQueueFetchDue = `
SELECT ` + queueCols + `
FROM notification_queue
WHERE status = 'pending' AND scheduled_for <= $1
ORDER BY priority DESC, scheduled_for ASC
LIMIT $2;`

	qQueueClaim = `
UPDATE notification_queue
SET status = 'processing', updated_at = $2
WHERE id = $1 AND status = 'pending';`

	qQueueFinish = `
UPDATE notification_queue
SET status = $2, retry_count = $3, scheduled_for = $4, execution_log = $5, updated_at = $6
WHERE id = $1 AND status = 'processing';`

	qQueueSupersedeStale = `
UPDATE notification_queue q
SET status = 'completed', updated_at = $2
WHERE q.status = 'processing' AND q.updated_at < $1
  AND EXISTS (
      SELECT 1 FROM notification_queue p
      WHERE p.id <> q.id
        AND p.tenant_id = q.tenant_id
        AND p.shipment_id IS NOT DISTINCT FROM q.shipment_id
        AND (p.status = 'pending' OR (p.status = 'processing' AND p.created_at > q.created_at))
  );`

	qQueueReclaimStale = `
UPDATE notification_queue
SET status = 'pending', updated_at = $2
WHERE status = 'processing' AND updated_at < $1;`

	qQueuePurge = `
DELETE FROM notification_queue
WHERE status IN ('completed', 'failed') AND updated_at < $1;`
)

func scanQueueItem(row pgx.Row) (*queue.Item, error) {
	var (
		it      queue.Item
		channel string
		status  string
		payload []byte
		execLog []byte
	)
	if err := row.Scan(
		&it.ID,
		&it.TenantID,
		&it.ShipmentID,
		&it.EventType,
		&channel,
		&payload,
		&status,
		&it.Priority,
		&it.ScheduledFor,
		&it.RetryCount,
		&it.MaxRetries,
		&execLog,
		&it.CreatedAt,
		&it.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	it.Channel = notification.Channel(channel)
	it.Status = queue.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &it.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(execLog) > 0 {
		if err := json.Unmarshal(execLog, &it.ExecutionLog); err != nil {
			return nil, fmt.Errorf("decode execution log: %w", err)
		}
	}
	return &it, nil
}

func (r *QueueRepoImpl) Get(ctx context.Context, id uuid.UUID) (*queue.Item, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return scanQueueItem(r.db.execQueryer(ctx).QueryRow(ctx, qQueueGet, id))
}

func (r *QueueRepoImpl) FindPending(ctx context.Context, tenantID, shipmentID string) (*queue.Item, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	it, err := scanQueueItem(r.db.execQueryer(ctx).QueryRow(ctx, qQueueFindPending, tenantID, shipmentID))
	if errors.Is(err, queue.ErrNotFound) {
		return nil, nil
	}
	return it, err
}

func (r *QueueRepoImpl) Insert(ctx context.Context, it *queue.Item) error {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	execLog, err := encodeLog(it.ExecutionLog)
	if err != nil {
		return err
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err = r.db.execQueryer(ctx).Exec(ctx, qQueueInsert,
		it.ID,
		it.TenantID,
		it.ShipmentID,
		it.EventType,
		string(it.Channel),
		payload,
		it.Priority,
		it.ScheduledFor,
		it.MaxRetries,
		execLog,
		it.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return queue.ErrPendingExists
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	it.Status = queue.StatusPending
	it.UpdatedAt = it.CreatedAt
	return nil
}

func (r *QueueRepoImpl) ReplacePending(ctx context.Context, it *queue.Item) error {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qQueueReplacePending,
		it.ID, it.EventType, payload, it.Priority, it.ScheduledFor, it.UpdatedAt, string(it.Channel))
	if err != nil {
		return fmt.Errorf("replace pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrNotClaimed
	}
	it.RetryCount = 0
	return nil
}

func (r *QueueRepoImpl) FetchDue(ctx context.Context, now time.Time, limit int) ([]*queue.Item, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qQueueFetchDue, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	out := make([]*queue.Item, 0, limit)
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *QueueRepoImpl) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qQueueClaim, id, now)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *QueueRepoImpl) Finish(ctx context.Context, it *queue.Item) error {
	execLog, err := encodeLog(it.ExecutionLog)
	if err != nil {
		return err
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qQueueFinish,
		it.ID, string(it.Status), it.RetryCount, it.ScheduledFor, execLog, it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return queue.ErrPendingExists
		}
		return fmt.Errorf("finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrNotClaimed
	}
	return nil
}

func (r *QueueRepoImpl) ReclaimStale(ctx context.Context, stuckSince, now time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if _, err := eq.Exec(ctx, qQueueSupersedeStale, stuckSince, now); err != nil {
		return 0, fmt.Errorf("supersede stale: %w", err)
	}
	tag, err := eq.Exec(ctx, qQueueReclaimStale, stuckSince, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *QueueRepoImpl) PurgeFinished(ctx context.Context, finishedBefore time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qQueuePurge, finishedBefore)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func encodeLog(l []queue.Attempt) ([]byte, error) {
	if l == nil {
		l = []queue.Attempt{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode execution log: %w", err)
	}
	return b, nil
}
