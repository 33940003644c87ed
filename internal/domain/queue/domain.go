package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	DefaultMaxRetries = 3
	// MaxExecutionLog bounds the attempts kept on a row.
	MaxExecutionLog = 10
)

var (
	ErrNotFound = errors.New("queue: item not found")
	// ErrPendingExists is returned by Insert when the (tenant, shipment) pair
	// already has a pending row.
	ErrPendingExists = errors.New("queue: pending item already exists")
	// ErrNotClaimed is returned when a row is not in the state the caller expects.
	ErrNotClaimed = errors.New("queue: item not claimed")
)

// Payload is the latest event data for a queued notification.
type Payload struct {
	TrackingCode   string            `json:"tracking_code,omitempty"`
	NewStatus      string            `json:"new_status"`
	OldStatus      string            `json:"old_status,omitempty"`
	RawStatus      string            `json:"raw_status,omitempty"`
	RecipientEmail string            `json:"recipient_email,omitempty"`
	RecipientPhone string            `json:"recipient_phone,omitempty"`
	RecipientName  string            `json:"recipient_name,omitempty"`
	Location       string            `json:"location,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// Outcome kinds of one channel attempt.
const (
	OutcomeSent            = "sent"
	OutcomeDuplicate       = "duplicate"
	OutcomeNoProvider      = "no_provider"
	OutcomeValidationError = "validation_error"
	OutcomeConfigError     = "config_error"
	OutcomeProviderError   = "provider_error"
)

type ChannelResult struct {
	Channel    notification.Channel `json:"channel"`
	Outcome    string               `json:"outcome"`
	ProviderID string               `json:"provider_id,omitempty"`
	MessageID  string               `json:"message_id,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Failed reports whether the attempt counts against the row.
func (r ChannelResult) Failed() bool {
	switch r.Outcome {
	case OutcomeValidationError, OutcomeConfigError, OutcomeProviderError:
		return true
	}
	return false
}

// Retryable is true only for provider errors.
func (r ChannelResult) Retryable() bool { return r.Outcome == OutcomeProviderError }

// Row-level results stored in the execution log.
const (
	ResultCompleted = "completed"
	ResultSkipped   = "skipped"
	ResultRetried   = "retried"
	ResultFailed    = "failed"
)

type Attempt struct {
	At       time.Time       `json:"at"`
	Result   string          `json:"result"`
	Reason   string          `json:"reason,omitempty"`
	Channels []ChannelResult `json:"channels,omitempty"`
}

// Item is one row of notification_queue. An empty Channel fans out over
// every channel enabled for the tenant.
type Item struct {
	ID           uuid.UUID
	TenantID     string
	ShipmentID   *string
	EventType    string
	Channel      notification.Channel
	Payload      Payload
	Status       Status
	Priority     int
	ScheduledFor time.Time
	RetryCount   int
	MaxRetries   int
	ExecutionLog []Attempt
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppendAttempt records a and keeps the newest MaxExecutionLog entries.
func (it *Item) AppendAttempt(a Attempt) {
	it.ExecutionLog = append(it.ExecutionLog, a)
	if n := len(it.ExecutionLog); n > MaxExecutionLog {
		it.ExecutionLog = append([]Attempt(nil), it.ExecutionLog[n-MaxExecutionLog:]...)
	}
}

func (it *Item) LastAttempt() *Attempt {
	if len(it.ExecutionLog) == 0 {
		return nil
	}
	return &it.ExecutionLog[len(it.ExecutionLog)-1]
}

func (it *Item) ShipmentKey() string {
	if it.ShipmentID == nil {
		return ""
	}
	return *it.ShipmentID
}
