package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// QueueBackoff schedules re-dispatch of a failed queue row: 5m, 25m, 125m.
var QueueBackoff = Power{Base: time.Minute, Factor: 5}

// StorePolicy retries short-lived store operations such as enqueue.
func StorePolicy(name string, log *zap.Logger, retryable func(error) bool) Policy {
	return Policy{
		Name:      name,
		Attempts:  4,
		Backoff:   ExpoJitter{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		Retryable: retryable,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("store retry", zap.String("op", name), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("store retries exhausted", zap.String("op", name), zap.Error(err))
			}
		},
	}
}

func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "kafka",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("kafka retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka retries exhausted", zap.Error(err))
			}
		},
	}
}
