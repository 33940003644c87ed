package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/obs"
)

type Handler func(ctx context.Context, key, value []byte) error

var consumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_consumed_total",
	Help: "Consumed messages by topic and result.",
}, []string{"topic", "result"})

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultHandlerAttempts bounds in-place retries of one failing message.
const DefaultHandlerAttempts = 5

type Consumer struct {
	reader Reader
	log    *zap.Logger
	cfg    *ConsumerConfig
}

type ConsumerConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	Topic         string   `mapstructure:"topic"`
	FromBeginning bool     `mapstructure:"from_beginning"`
	// HandlerAttempts is how often a failing message is re-run before
	// Consume gives up without committing it.
	HandlerAttempts int         `mapstructure:"handler_attempts"`
	Logger          *zap.Logger `mapstructure:"-"`
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	log := cfg.Logger.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)

	return &Consumer{reader: r, log: log, cfg: cfg}
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r Reader, cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Consumer{reader: r, log: cfg.Logger.With(zap.String("component", "kafka.consumer")), cfg: cfg}
}

// Consume runs h for every message until ctx is done. A message is
// committed only after h returns nil. A failing message is re-run in place
// with backoff; once HandlerAttempts run out Consume returns an error and
// the offset stays uncommitted, so the group redelivers it.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	log := c.log
	log.Info("consumer started")

	tr := otel.Tracer("kafka.consumer")
	prop := otel.GetTextMapPropagator()

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped (ctx canceled)")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Debug("fetch EOF; retry", zap.Duration("backoff", backoff))
			} else {
				log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = 200 * time.Millisecond

		parent := prop.Extract(ctx, carrier(&msg.Headers))
		msgCtx, span := tr.Start(parent, "kafka.consume "+msg.Topic,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				semconv.MessagingSystemKafka,
				semconv.MessagingDestinationName(msg.Topic),
				semconv.MessagingOperationReceive,
				attribute.Int("messaging.kafka.partition", msg.Partition),
				attribute.Int64("messaging.kafka.offset", msg.Offset),
			),
		)

		if err := c.handle(msgCtx, h, msg); err != nil {
			obs.EndSpan(span, err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka: %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		consumed.WithLabelValues(msg.Topic, "ok").Inc()
		span.End()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, msg kafka.Message) error {
	attempts := c.cfg.HandlerAttempts
	if attempts <= 0 {
		attempts = DefaultHandlerAttempts
	}
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	var err error
	for i := 0; i < attempts; i++ {
		if err = h(ctx, msg.Key, msg.Value); err == nil {
			return nil
		}
		consumed.WithLabelValues(msg.Topic, "error").Inc()
		obs.WithTrace(ctx, c.log).Error("handler error",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return err
}

func (c *Consumer) Close() error { return c.reader.Close() }
