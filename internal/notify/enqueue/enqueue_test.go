package enqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/domain/shipment"
	"github.com/NordCoder/Shipnotify/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEnqueuer(t *testing.T) (*Enqueuer, *memory.QueueRepo, *memory.SettingsRepo, *fakeClock) {
	t.Helper()
	q := memory.NewQueueRepo()
	settings := memory.NewSettingsRepo()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := New(q, q, settings, nil)
	e.Clock = clock
	return e, q, settings, clock
}

func event(status string) Event {
	return Event{
		ShipmentID:     "s1",
		TenantID:       "t1",
		NewStatus:      status,
		TrackingCode:   "TRK1",
		RecipientEmail: "jane@example.com",
	}
}

func TestEnqueue_DebounceCollapsesToOneRow(t *testing.T) {
	ctx := context.Background()
	e, q, _, clock := newEnqueuer(t)

	first, err := e.EnqueueStatusChange(ctx, event("in_transit"))
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, first.Result)

	clock.Advance(10 * time.Second)
	second, err := e.EnqueueStatusChange(ctx, event("OUT FOR DELIVERY"))
	require.NoError(t, err)
	assert.Equal(t, ResultDebounced, second.Result)
	assert.Equal(t, first.ItemID, second.ItemID)

	clock.Advance(10 * time.Second)
	ev := event("delivered")
	ev.OldStatus = "out_for_delivery"
	third, err := e.EnqueueStatusChange(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultDebounced, third.Result)

	rows := q.All()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, queue.StatusPending, row.Status)
	assert.Equal(t, "delivered", row.EventType)
	assert.Equal(t, "delivered", row.Payload.NewStatus)
	assert.Equal(t, "out_for_delivery", row.Payload.OldStatus)
	assert.Equal(t, shipment.StatusDelivered.Priority(), row.Priority)
	assert.Equal(t, clock.Now().Add(DefaultWindow), row.ScheduledFor)
	assert.Equal(t, queue.DefaultMaxRetries, row.MaxRetries)
	assert.Equal(t, 0, row.RetryCount)
}

func TestEnqueue_NewRowOnceProcessingStarted(t *testing.T) {
	ctx := context.Background()
	e, q, _, clock := newEnqueuer(t)

	first, err := e.EnqueueStatusChange(ctx, event("in_transit"))
	require.NoError(t, err)

	ok, err := q.Claim(ctx, first.ItemID, clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	second, err := e.EnqueueStatusChange(ctx, event("delivered"))
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, second.Result)
	assert.NotEqual(t, first.ItemID, second.ItemID)
	assert.Len(t, q.All(), 2)
}

func TestEnqueue_PairsAreIndependent(t *testing.T) {
	ctx := context.Background()
	e, q, _, _ := newEnqueuer(t)

	_, err := e.EnqueueStatusChange(ctx, event("delivered"))
	require.NoError(t, err)

	other := event("delivered")
	other.ShipmentID = "s2"
	_, err = e.EnqueueStatusChange(ctx, other)
	require.NoError(t, err)

	otherTenant := event("delivered")
	otherTenant.TenantID = "t2"
	_, err = e.EnqueueStatusChange(ctx, otherTenant)
	require.NoError(t, err)

	assert.Len(t, q.All(), 3)
}

func TestEnqueue_TriggerDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	e, q, settings, _ := newEnqueuer(t)
	settings.Set(notification.Settings{TenantID: "t1", NotificationTriggers: []string{"delivered"}})

	out, err := e.EnqueueStatusChange(ctx, event("in_transit"))
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerDisabled, out.Result)
	assert.Empty(t, q.All())

	out, err = e.EnqueueStatusChange(ctx, event("Delivered"))
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, out.Result)
	assert.Len(t, q.All(), 1)
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	e, q, _, _ := newEnqueuer(t)

	_, err := e.EnqueueStatusChange(ctx, Event{TenantID: "t1", NewStatus: "delivered"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	bad := event("delivered")
	bad.Channel = "pigeon"
	_, err = e.EnqueueStatusChange(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = e.EnqueueStatusChange(ctx, event("teleported"))
	assert.ErrorIs(t, err, ErrUnknownStatus)

	assert.Empty(t, q.All())
}

func TestEnqueue_TriggersMatchRegardlessOfSpelling(t *testing.T) {
	ctx := context.Background()
	e, q, settings, _ := newEnqueuer(t)
	settings.Set(notification.Settings{TenantID: "t1", NotificationTriggers: []string{"DELIVERED", "Out For Delivery"}})

	out, err := e.EnqueueStatusChange(ctx, event("out_for_delivery"))
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, out.Result)

	ev := event("delivered")
	ev.ShipmentID = "s2"
	out, err = e.EnqueueStatusChange(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, out.Result)

	out, err = e.EnqueueStatusChange(ctx, event("in_transit"))
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerDisabled, out.Result)
	assert.Len(t, q.All(), 2)
}

func TestEnqueue_MalformedEmailStillEnqueues(t *testing.T) {
	e, q, _, _ := newEnqueuer(t)
	ev := event("delivered")
	ev.RecipientEmail = "not-an-email"
	ev.RecipientPhone = "+14155550100"

	out, err := e.EnqueueStatusChange(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, out.Result)

	rows := q.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "not-an-email", rows[0].Payload.RecipientEmail)
	assert.Equal(t, "+14155550100", rows[0].Payload.RecipientPhone)
}

func TestEnqueue_SettingsErrorSurfaces(t *testing.T) {
	e, q, settings, _ := newEnqueuer(t)
	settings.Err = errors.New("db down")

	_, err := e.EnqueueStatusChange(context.Background(), event("delivered"))
	require.Error(t, err)
	assert.Empty(t, q.All())
}

func TestEnqueue_RetriesPendingConflict(t *testing.T) {
	ctx := context.Background()
	e, q, _, _ := newEnqueuer(t)
	q.FailNext = queue.ErrPendingExists

	out, err := e.EnqueueStatusChange(ctx, event("delivered"))
	require.NoError(t, err)
	assert.Equal(t, ResultEnqueued, out.Result)
	assert.Len(t, q.All(), 1)
}

func TestEnqueue_ConcurrentEventsKeepOnePending(t *testing.T) {
	ctx := context.Background()
	e, q, _, _ := newEnqueuer(t)

	var wg sync.WaitGroup
	for _, st := range []string{"created", "received", "in_transit", "out_for_delivery", "delivered"} {
		wg.Add(1)
		go func(st string) {
			defer wg.Done()
			_, err := e.EnqueueStatusChange(ctx, event(st))
			assert.NoError(t, err)
		}(st)
	}
	wg.Wait()

	assert.Len(t, q.All(), 1)
}
