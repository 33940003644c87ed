package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

// Console logs the message instead of sending it. Used in dev setups.
type Console struct {
	log *zap.Logger
	seq atomic.Int64
}

func NewConsole(l *zap.Logger) *Console {
	if l == nil {
		l = zap.NewNop()
	}
	return &Console{log: l.With(zap.String("component", "providers.console"))}
}

func (*Console) ID() string { return "console" }

func (*Console) Channels() []notification.Channel { return notification.Channels }

func (c *Console) Send(_ context.Context, _ *notification.ProviderConfig, msg Message) Result {
	n := c.seq.Add(1)
	c.log.Info("notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("event", msg.Event),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return Sent(fmt.Sprintf("console-%d", n))
}
