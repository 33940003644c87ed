package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id uuid.UUID) (*Item, error)

	// FindPending returns the pending row for the pair, locking it when
	// called inside a transaction. Returns nil, nil when there is none.
	FindPending(ctx context.Context, tenantID, shipmentID string) (*Item, error)

	Insert(ctx context.Context, it *Item) error

	// ReplacePending overwrites payload, event type, channel, priority and
	// schedule of a pending row and resets its retry count. ErrNotClaimed
	// means the row left pending meanwhile.
	ReplacePending(ctx context.Context, it *Item) error

	// FetchDue lists pending rows with scheduled_for <= now, ordered by
	// priority desc, scheduled_for asc.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Item, error)

	// Claim moves a row from pending to processing. false means another
	// worker got it first.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Finish persists status, retry count, schedule and execution log of a
	// processing row.
	Finish(ctx context.Context, it *Item) error

	// ReclaimStale resets rows processing since before stuckSince to pending.
	// A stale row whose pair already has a newer pending row is completed instead.
	ReclaimStale(ctx context.Context, stuckSince, now time.Time) (int64, error)
	PurgeFinished(ctx context.Context, finishedBefore time.Time) (int64, error)
}

// Transactor runs fn in one transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
