// Package memory provides in-memory implementations of the notification
// stores. It backs tests and the console dev mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Shipnotify/internal/domain/queue"
)

var _ queue.Repository = (*QueueRepo)(nil)
var _ queue.Transactor = (*QueueRepo)(nil)

type QueueRepo struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	items map[uuid.UUID]*queue.Item

	// FailNext, when set, is returned once by the next mutating call.
	FailNext error
}

func NewQueueRepo() *QueueRepo {
	return &QueueRepo{items: make(map[uuid.UUID]*queue.Item)}
}

type txKey struct{}

// WithTx serializes transactions. Nested calls join the outer one.
func (r *QueueRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (r *QueueRepo) Get(_ context.Context, id uuid.UUID) (*queue.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return clone(it), nil
}

func (r *QueueRepo) FindPending(_ context.Context, tenantID, shipmentID string) (*queue.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if it := r.pendingFor(tenantID, shipmentID, uuid.Nil); it != nil {
		return clone(it), nil
	}
	return nil, nil
}

func (r *QueueRepo) Insert(_ context.Context, it *queue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if it.ShipmentID != nil && r.pendingFor(it.TenantID, *it.ShipmentID, uuid.Nil) != nil {
		return queue.ErrPendingExists
	}
	if _, ok := r.items[it.ID]; ok {
		return errors.New("duplicate id")
	}
	it.Status = queue.StatusPending
	it.UpdatedAt = it.CreatedAt
	r.items[it.ID] = clone(it)
	return nil
}

func (r *QueueRepo) ReplacePending(_ context.Context, it *queue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	cur, ok := r.items[it.ID]
	if !ok || cur.Status != queue.StatusPending {
		return queue.ErrNotClaimed
	}
	cur.EventType = it.EventType
	cur.Channel = it.Channel
	cur.Payload = clonePayload(it.Payload)
	cur.Priority = it.Priority
	cur.ScheduledFor = it.ScheduledFor
	cur.RetryCount = 0
	cur.UpdatedAt = it.UpdatedAt
	it.RetryCount = 0
	return nil
}

func (r *QueueRepo) FetchDue(_ context.Context, now time.Time, limit int) ([]*queue.Item, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []*queue.Item
	for _, it := range r.items {
		if it.Status == queue.StatusPending && !it.ScheduledFor.After(now) {
			due = append(due, clone(it))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *QueueRepo) Claim(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return false, err
	}
	it, ok := r.items[id]
	if !ok || it.Status != queue.StatusPending {
		return false, nil
	}
	it.Status = queue.StatusProcessing
	it.UpdatedAt = now
	return true, nil
}

func (r *QueueRepo) Finish(_ context.Context, it *queue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	cur, ok := r.items[it.ID]
	if !ok || cur.Status != queue.StatusProcessing {
		return queue.ErrNotClaimed
	}
	if it.Status == queue.StatusPending && cur.ShipmentID != nil &&
		r.pendingFor(cur.TenantID, *cur.ShipmentID, cur.ID) != nil {
		return queue.ErrPendingExists
	}
	cur.Status = it.Status
	cur.RetryCount = it.RetryCount
	cur.ScheduledFor = it.ScheduledFor
	cur.ExecutionLog = append([]queue.Attempt(nil), it.ExecutionLog...)
	cur.UpdatedAt = it.UpdatedAt
	return nil
}

func (r *QueueRepo) ReclaimStale(_ context.Context, stuckSince, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, it := range r.items {
		if it.Status != queue.StatusProcessing || !it.UpdatedAt.Before(stuckSince) {
			continue
		}
		it.UpdatedAt = now
		if it.ShipmentID != nil && r.newerSibling(it) {
			it.Status = queue.StatusCompleted
			continue
		}
		it.Status = queue.StatusPending
		n++
	}
	return n, nil
}

func (r *QueueRepo) PurgeFinished(_ context.Context, finishedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, it := range r.items {
		if (it.Status == queue.StatusCompleted || it.Status == queue.StatusFailed) && it.UpdatedAt.Before(finishedBefore) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every row, oldest first.
func (r *QueueRepo) All() []*queue.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*queue.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, clone(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Put stores it as is, bypassing the pending invariant.
func (r *QueueRepo) Put(it *queue.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.ID] = clone(it)
}

func (r *QueueRepo) pendingFor(tenantID, shipmentID string, except uuid.UUID) *queue.Item {
	for _, it := range r.items {
		if it.ID == except || it.Status != queue.StatusPending || it.TenantID != tenantID {
			continue
		}
		if it.ShipmentID != nil && *it.ShipmentID == shipmentID {
			return it
		}
	}
	return nil
}

func (r *QueueRepo) newerSibling(row *queue.Item) bool {
	for _, it := range r.items {
		if it.ID == row.ID || it.TenantID != row.TenantID || it.ShipmentID == nil || *it.ShipmentID != *row.ShipmentID {
			continue
		}
		if it.Status == queue.StatusPending || (it.Status == queue.StatusProcessing && it.CreatedAt.After(row.CreatedAt)) {
			return true
		}
	}
	return false
}

func (r *QueueRepo) takeFailure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

func clone(it *queue.Item) *queue.Item {
	c := *it
	if it.ShipmentID != nil {
		s := *it.ShipmentID
		c.ShipmentID = &s
	}
	c.Payload = clonePayload(it.Payload)
	c.ExecutionLog = append([]queue.Attempt(nil), it.ExecutionLog...)
	return &c
}

func clonePayload(p queue.Payload) queue.Payload {
	if p.Variables != nil {
		vars := make(map[string]string, len(p.Variables))
		for k, v := range p.Variables {
			vars[k] = v
		}
		p.Variables = vars
	}
	return p
}
