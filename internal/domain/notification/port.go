package notification

import "context"

type LogRepo interface {
	Create(ctx context.Context, l *Log) error
	// HasSent reports whether a sent log exists for the tuple with metadata.trigger == trigger.
	HasSent(ctx context.Context, tenantID, shipmentID string, channel Channel, trigger string) (bool, error)
	ListByShipment(ctx context.Context, tenantID, shipmentID string, limit int) ([]*Log, error)
}

type ConfigRepo interface {
	// FindActive returns the active config for channel; tenantID nil selects the global row.
	FindActive(ctx context.Context, tenantID *string, channel Channel) (*ProviderConfig, error)
}

type TemplateRepo interface {
	FindActive(ctx context.Context, tenantID *string, channel Channel, eventType string) (*Template, error)
}

type SettingsReader interface {
	GetSettings(ctx context.Context, tenantID string) (*Settings, error)
}
