// Package providers holds the channel adapters and the registry the
// dispatcher looks them up in.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindConfig     ErrorKind = "config_error"
	KindProvider   ErrorKind = "provider_error"
)

// Message is the rendered, channel-agnostic send request. Email uses
// Subject and HTML; SMS and WhatsApp use Text or TemplateName with
// Variables; webhook posts Event, Timestamp and Data.
type Message struct {
	Channel      notification.Channel
	To           string
	Name         string
	Subject      string
	HTML         string
	Text         string
	From         string
	ReplyTo      string
	TemplateName string
	Variables    map[string]string
	Event        string
	Timestamp    time.Time
	Data         map[string]any
}

type Result struct {
	Success   bool
	MessageID string
	Error     string
	ErrorKind ErrorKind
	Metadata  map[string]any
}

func Sent(messageID string) Result { return Result{Success: true, MessageID: messageID} }

func Fail(kind ErrorKind, format string, args ...any) Result {
	return Result{ErrorKind: kind, Error: fmt.Sprintf(format, args...)}
}

// Provider never returns an error: every failure is a Result.
type Provider interface {
	ID() string
	Channels() []notification.Channel
	Send(ctx context.Context, cfg *notification.ProviderConfig, msg Message) Result
}

type key struct {
	channel notification.Channel
	id      string
}

type Registry struct {
	mu sync.RWMutex
	m  map[key]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{m: make(map[key]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p for every channel it serves, replacing earlier entries.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range p.Channels() {
		r.m[key{channel: ch, id: p.ID()}] = p
	}
}

func (r *Registry) Lookup(channel notification.Channel, providerID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[key{channel: channel, id: providerID}]
	return p, ok
}

// IDs lists registered provider ids for channel.
func (r *Registry) IDs(channel notification.Channel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.m {
		if k.channel == channel {
			out = append(out, k.id)
		}
	}
	sort.Strings(out)
	return out
}

// SafeSend calls p.Send and turns a panic into a provider_error.
func SafeSend(ctx context.Context, p Provider, cfg *notification.ProviderConfig, msg Message, log *zap.Logger) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			if log != nil {
				log.Error("provider panic", zap.String("provider_id", p.ID()), zap.Any("panic", rec))
			}
			res = Fail(KindProvider, "provider %s panicked: %v", p.ID(), rec)
		}
	}()
	return p.Send(ctx, cfg, msg)
}

// Defaults are the registry's standard adapters.
type Defaults struct {
	HTTP          HTTPConfig
	DefaultRegion string
	Log           *zap.Logger
}

func NewDefaultRegistry(d Defaults) *Registry {
	client := NewHTTPClient(d.HTTP)
	phones := PhoneNormalizer{DefaultRegion: d.DefaultRegion}
	return NewRegistry(
		NewSMTP(d.Log),
		NewZeptoMail(client),
		NewTwilio(client, phones),
		NewMSG91(client, phones),
		NewMetaWhatsApp(client, phones),
		NewWebhook(client),
		NewConsole(d.Log),
	)
}
