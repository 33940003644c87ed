package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/domain/queue"
)

func ptr(s string) *string { return &s }

func newItem(tenant, shipment string, at time.Time) *queue.Item {
	return &queue.Item{
		ID:           uuid.New(),
		TenantID:     tenant,
		ShipmentID:   ptr(shipment),
		EventType:    "delivered",
		ScheduledFor: at,
		MaxRetries:   queue.DefaultMaxRetries,
		CreatedAt:    at,
	}
}

func TestQueueRepo_OnePendingPerShipment(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo()
	now := time.Now().UTC()

	require.NoError(t, r.Insert(ctx, newItem("t1", "s1", now)))
	assert.ErrorIs(t, r.Insert(ctx, newItem("t1", "s1", now)), queue.ErrPendingExists)
	require.NoError(t, r.Insert(ctx, newItem("t1", "s2", now)))
	require.NoError(t, r.Insert(ctx, newItem("t2", "s1", now)))
}

func TestQueueRepo_FetchDueOrderAndClaim(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo()
	now := time.Now().UTC()

	low := newItem("t", "a", now.Add(-2*time.Minute))
	high := newItem("t", "b", now.Add(-time.Minute))
	high.Priority = 10
	older := newItem("t", "c", now.Add(-3*time.Minute))
	future := newItem("t", "d", now.Add(time.Minute))
	for _, it := range []*queue.Item{low, high, older, future} {
		require.NoError(t, r.Insert(ctx, it))
	}

	due, err := r.FetchDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, high.ID, due[0].ID)
	assert.Equal(t, older.ID, due[1].ID)
	assert.Equal(t, low.ID, due[2].ID)

	ok, err := r.Claim(ctx, high.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Claim(ctx, high.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueRepo_FinishRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo()
	now := time.Now().UTC()
	it := newItem("t", "s", now)
	require.NoError(t, r.Insert(ctx, it))

	it.Status = queue.StatusCompleted
	assert.ErrorIs(t, r.Finish(ctx, it), queue.ErrNotClaimed)
}

func TestQueueRepo_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo()
	now := time.Now().UTC()

	stale := newItem("t", "s", now.Add(-time.Hour))
	require.NoError(t, r.Insert(ctx, stale))
	ok, err := r.Claim(ctx, stale.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	superseded := newItem("t", "x", now.Add(-time.Hour))
	require.NoError(t, r.Insert(ctx, superseded))
	_, err = r.Claim(ctx, superseded.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, r.Insert(ctx, newItem("t", "x", now)))

	n, err := r.ReclaimStale(ctx, now.Add(-10*time.Minute), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := r.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, got.Status)

	got, err = r.Get(ctx, superseded.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
}

func TestQueueRepo_PurgeFinished(t *testing.T) {
	ctx := context.Background()
	r := NewQueueRepo()
	now := time.Now().UTC()

	old := newItem("t", "a", now)
	old.Status = queue.StatusCompleted
	old.UpdatedAt = now.Add(-48 * time.Hour)
	r.Put(old)
	fresh := newItem("t", "b", now)
	fresh.Status = queue.StatusFailed
	fresh.UpdatedAt = now
	r.Put(fresh)

	n, err := r.PurgeFinished(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = r.Get(ctx, old.ID)
	assert.ErrorIs(t, err, queue.ErrNotFound)
}
