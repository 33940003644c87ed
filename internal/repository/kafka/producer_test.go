package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/notify/dispatch"
	"github.com/NordCoder/Shipnotify/internal/obs/retry"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		return err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "topic")

	require.NoError(t, p.PublishJSON(context.Background(), []byte("k"), map[string]int{"a": 1}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("k"), w.msgs[0].Key)
	assert.JSONEq(t, `{"a":1}`, string(w.msgs[0].Value))

	var ct string
	for _, h := range w.msgs[0].Headers {
		if h.Key == "content-type" {
			ct = string(h.Value)
		}
	}
	assert.Equal(t, "application/json", ct)

	assert.Error(t, p.PublishJSON(context.Background(), nil, func() {}))
}

func TestOutcomeEvents_RetriesAndKeysByShipment(t *testing.T) {
	w := &fakeWriter{errs: []error{errors.New("leader not available")}}
	pol := retry.Policy{Name: "test", Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond}}
	ev := NewOutcomeEvents(NewProducerWithWriter(w, TopicOutcomes), pol)

	o := dispatch.Outcome{ItemID: "id-1", TenantID: "t1", ShipmentID: "s1", Result: "completed"}
	require.NoError(t, ev.PublishOutcome(context.Background(), o))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t1/s1", string(w.msgs[0].Key))

	var got dispatch.Outcome
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "completed", got.Result)
}

func TestJSONHandler(t *testing.T) {
	type event struct {
		ID string `json:"id"`
	}
	var got []string
	h := JSONHandler(nil, func(_ context.Context, _ []byte, e event) error {
		got = append(got, e.ID)
		return nil
	})

	require.NoError(t, h(context.Background(), nil, []byte(`{"id":"a"}`)))
	// garbage is acknowledged, not retried
	require.NoError(t, h(context.Background(), nil, []byte(`{nope`)))
	assert.Equal(t, []string{"a"}, got)

	failing := JSONHandler(nil, func(context.Context, []byte, event) error { return errors.New("x") })
	assert.Error(t, failing(context.Background(), nil, []byte(`{}`)))
}

func TestHeaderCarrier(t *testing.T) {
	var hs []kafka.Header
	c := carrier(&hs)
	c.Set("traceparent", "00-abc")
	c.Set("traceparent", "00-def")
	require.Len(t, hs, 1)
	assert.Equal(t, "00-def", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
