package kafka

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// JSONHandler decodes value into T before calling handle. A payload that
// does not decode is logged and acknowledged so it cannot block the partition.
func JSONHandler[T any](log *zap.Logger, handle func(ctx context.Context, key []byte, v T) error) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			log.Warn("drop undecodable message", zap.ByteString("key", key), zap.Int("value_len", len(value)), zap.Error(err))
			return nil
		}
		return handle(ctx, key, v)
	}
}
