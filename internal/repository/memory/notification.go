package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

var (
	_ notification.LogRepo        = (*LogRepo)(nil)
	_ notification.ConfigRepo     = (*ConfigRepo)(nil)
	_ notification.TemplateRepo   = (*TemplateRepo)(nil)
	_ notification.SettingsReader = (*SettingsRepo)(nil)
)

type LogRepo struct {
	mu     sync.RWMutex
	nextID int64
	logs   []notification.Log

	// HasSentErr, when set, is returned by every HasSent call.
	HasSentErr error
}

func NewLogRepo() *LogRepo { return &LogRepo{} }

func (r *LogRepo) Create(_ context.Context, l *notification.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	if l.SentAt.IsZero() {
		l.SentAt = time.Now().UTC()
	}
	r.logs = append(r.logs, *l)
	return nil
}

func (r *LogRepo) HasSent(_ context.Context, tenantID, shipmentID string, channel notification.Channel, trigger string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.HasSentErr != nil {
		return false, r.HasSentErr
	}
	for i := range r.logs {
		l := &r.logs[i]
		if l.TenantID == tenantID && l.ShipmentID != nil && *l.ShipmentID == shipmentID &&
			l.Channel == channel && l.Status == notification.LogSent && l.Trigger() == trigger {
			return true, nil
		}
	}
	return false, nil
}

func (r *LogRepo) ListByShipment(_ context.Context, tenantID, shipmentID string, limit int) ([]*notification.Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*notification.Log
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.TenantID == tenantID && l.ShipmentID != nil && *l.ShipmentID == shipmentID {
			out = append(out, &l)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every log in insertion order.
func (r *LogRepo) All() []notification.Log {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]notification.Log(nil), r.logs...)
}

type ConfigRepo struct {
	mu      sync.RWMutex
	nextID  int64
	configs []notification.ProviderConfig
}

func NewConfigRepo() *ConfigRepo { return &ConfigRepo{} }

func (r *ConfigRepo) Add(c notification.ProviderConfig) notification.ProviderConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Unix(r.nextID, 0).UTC()
	}
	r.configs = append(r.configs, c)
	return c
}

func (r *ConfigRepo) FindActive(_ context.Context, tenantID *string, channel notification.Channel) (*notification.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var match []notification.ProviderConfig
	for _, c := range r.configs {
		if !c.IsActive || c.Channel != channel || !sameTenant(c.TenantID, tenantID) {
			continue
		}
		match = append(match, c)
	}
	if len(match) == 0 {
		return nil, nil
	}
	sort.Slice(match, func(i, j int) bool { return match[i].UpdatedAt.After(match[j].UpdatedAt) })
	c := match[0]
	return &c, nil
}

type TemplateRepo struct {
	mu        sync.RWMutex
	templates []notification.Template
}

func NewTemplateRepo() *TemplateRepo { return &TemplateRepo{} }

func (r *TemplateRepo) Add(t notification.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = int64(len(r.templates) + 1)
	r.templates = append(r.templates, t)
}

func (r *TemplateRepo) FindActive(_ context.Context, tenantID *string, channel notification.Channel, eventType string) (*notification.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.templates) - 1; i >= 0; i-- {
		t := r.templates[i]
		if t.IsActive && t.Channel == channel && t.EventType == eventType && sameTenant(t.TenantID, tenantID) {
			return &t, nil
		}
	}
	return nil, nil
}

type SettingsRepo struct {
	mu       sync.RWMutex
	settings map[string]notification.Settings
	reads    int

	// Err, when set, is returned by every GetSettings call.
	Err error
}

func NewSettingsRepo() *SettingsRepo {
	return &SettingsRepo{settings: make(map[string]notification.Settings)}
}

func (r *SettingsRepo) Set(s notification.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.NotificationTriggers = notification.NormalizeTriggers(s.NotificationTriggers)
	r.settings[s.TenantID] = s
}

func (r *SettingsRepo) GetSettings(_ context.Context, tenantID string) (*notification.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.settings[tenantID]
	if !ok {
		return &notification.Settings{TenantID: tenantID}, nil
	}
	return &s, nil
}

// Reads counts GetSettings calls.
func (r *SettingsRepo) Reads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads
}

func sameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
