package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Minute, QueueBackoff.Next(1))
	assert.Equal(t, 25*time.Minute, QueueBackoff.Next(2))
	assert.Equal(t, 125*time.Minute, QueueBackoff.Next(3))
}

func TestPower_Max(t *testing.T) {
	b := Power{Base: time.Second, Factor: 10, Max: time.Minute}
	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, time.Minute, b.Next(5))
}

func TestExpoJitter_NoJitter(t *testing.T) {
	b := ExpoJitter{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.Next(0))
	assert.Equal(t, 40*time.Millisecond, b.Next(2))
	assert.Equal(t, 50*time.Millisecond, b.Next(3))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, Policy{Name: "test_ok", Attempts: 5, Backoff: ExpoJitter{Base: time.Millisecond}})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	var exhausted error
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, Policy{
		Name:      "test_fatal",
		Attempts:  5,
		Backoff:   ExpoJitter{Base: time.Millisecond},
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
		OnExhaust: func(err error) { exhausted = err },
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, exhausted, fatal)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return errors.New("boom") },
		Policy{Name: "test_cancel", Attempts: 3, Backoff: ExpoJitter{Base: time.Hour}})
	assert.ErrorIs(t, err, context.Canceled)
}
