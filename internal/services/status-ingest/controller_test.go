package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/notify/enqueue"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
	kafkax "github.com/NordCoder/Shipnotify/internal/repository/kafka"
	"github.com/NordCoder/Shipnotify/internal/repository/memory"
)

// replaySub feeds fixed messages to the handler and reports handler errors.
type replaySub struct {
	msgs [][]byte
	errs []error
}

func (s *replaySub) Consume(ctx context.Context, h kafkax.Handler) error {
	for _, m := range s.msgs {
		s.errs = append(s.errs, h(ctx, nil, m))
	}
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Name: "test", Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
}

func TestController_EnqueuesAndDrops(t *testing.T) {
	q := memory.NewQueueRepo()
	enq := enqueue.New(q, q, memory.NewSettingsRepo(), nil)

	good, err := json.Marshal(StatusChange{ShipmentID: "s1", TenantID: "t1", NewStatus: "OUT FOR DELIVERY"})
	require.NoError(t, err)
	unknown, err := json.Marshal(StatusChange{ShipmentID: "s2", TenantID: "t1", NewStatus: "lost in space"})
	require.NoError(t, err)

	sub := &replaySub{msgs: [][]byte{good, unknown, []byte("{garbage")}}
	c := &Controller{Sub: sub, UC: enq, Policy: fastPolicy()}
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []error{nil, nil, nil}, sub.errs)
	rows := q.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "out_for_delivery", rows[0].EventType)
	assert.Equal(t, "OUT FOR DELIVERY", rows[0].Payload.RawStatus)
}

type flakyEnqueuer struct {
	fails int
	calls int
}

func (f *flakyEnqueuer) EnqueueStatusChange(context.Context, enqueue.Event) (enqueue.Outcome, error) {
	f.calls++
	if f.calls <= f.fails {
		return enqueue.Outcome{}, errors.New("connection reset")
	}
	return enqueue.Outcome{Result: enqueue.ResultEnqueued}, nil
}

func TestController_RetriesStoreErrors(t *testing.T) {
	uc := &flakyEnqueuer{fails: 2}
	c := &Controller{UC: uc, Policy: fastPolicy()}
	require.NoError(t, c.Handle(context.Background(), nil, StatusChange{ShipmentID: "s1", TenantID: "t1", NewStatus: "delivered"}))
	assert.Equal(t, 3, uc.calls)

	uc = &flakyEnqueuer{fails: 5}
	c.UC = uc
	assert.Error(t, c.Handle(context.Background(), nil, StatusChange{ShipmentID: "s1", TenantID: "t1", NewStatus: "delivered"}))
	assert.Equal(t, 3, uc.calls)
}

func TestController_ValidationIsNotRetried(t *testing.T) {
	q := memory.NewQueueRepo()
	q.FailNext = queue.ErrPendingExists
	c := &Controller{UC: enqueue.New(q, q, memory.NewSettingsRepo(), nil), Policy: fastPolicy()}

	require.NoError(t, c.Handle(context.Background(), nil, StatusChange{TenantID: "t1", NewStatus: "delivered"}))
	assert.Empty(t, q.All())
}
