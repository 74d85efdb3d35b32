package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a subscription does not exist for the
// given id/tenant pair.
var ErrNotFound = errors.New("subscription not found")

// ErrDuplicate is returned when a subscription id is already taken.
var ErrDuplicate = errors.New("subscription already exists")

// SubscriptionStats holds the cumulative delivery counters for a subscription.
// They are maintained by UpdateStats only and are not part of subscription
// identity.
type SubscriptionStats struct {
	TotalDeliveries      int64   `json:"total_deliveries"`
	SuccessfulDeliveries int64   `json:"successful_deliveries"`
	FailedDeliveries     int64   `json:"failed_deliveries"`
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
}

// Subscription is a tenant's registration of a URL plus event-type filter.
// EventTypes entries are exact types ("document.added"), single-level
// wildcards ("document.*"), or the bare wildcard "*".
type Subscription struct {
	ID             string
	TenantID       string
	URL            string
	EventTypes     []string
	Description    string
	Secret         string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastDeliveryAt *time.Time
	Stats          SubscriptionStats
}

// DeliveryLogRecord is one append-only entry per delivery attempt.
type DeliveryLogRecord struct {
	ID             string
	SubscriptionID string
	TenantID       string
	EventType      string
	EventID        string
	Attempt        int
	Timestamp      time.Time
	StatusCode     int // 0 when no HTTP response was received
	Success        bool
	ResponseTimeMs float64
	ResponseBody   string
	ErrorMessage   string
}

// DeadLetterRecord captures an event whose retry budget was exhausted for
// one subscription. Processed is an operator flag and is never set by the
// delivery subsystem.
type DeadLetterRecord struct {
	ID             string
	SubscriptionID string
	TenantID       string
	EventType      string
	EventID        string
	Payload        []byte
	ErrorMessage   string
	Timestamp      time.Time
	Processed      bool
}

// Store defines the persistence contract the webhook subsystem depends on.
//
// Implementations must support concurrent use. UpdateStats must be atomic
// per subscription: two deliveries completing at the same time may not lose
// either increment (the reference MySQL store performs the read-modify-write
// in a single UPDATE statement).
type Store interface {
	// CreateWebhook persists a new subscription, or returns ErrDuplicate
	// when the id is already taken.
	CreateWebhook(ctx context.Context, sub *Subscription) error
	// GetWebhook returns the subscription, or ErrNotFound.
	GetWebhook(ctx context.Context, id, tenantID string) (*Subscription, error)
	// UpdateWebhook replaces the mutable subscription fields (url, event
	// types, description, secret, active, updated_at) with the values the
	// caller set; the persisted UpdatedAt is exactly sub.UpdatedAt.
	UpdateWebhook(ctx context.Context, sub *Subscription) error
	// DeleteWebhook removes the subscription, or returns ErrNotFound.
	DeleteWebhook(ctx context.Context, id, tenantID string) error
	// ListWebhooks returns every subscription owned by the tenant.
	ListWebhooks(ctx context.Context, tenantID string) ([]Subscription, error)
	// ListActiveByEventPattern returns active subscriptions whose EventTypes
	// set contains the given pattern string verbatim.
	ListActiveByEventPattern(ctx context.Context, tenantID, pattern string) ([]Subscription, error)
	// UpdateStats increments the delivery counters, folds the latency into
	// the running average and sets LastDeliveryAt to now.
	UpdateStats(ctx context.Context, id, tenantID string, success bool, responseTimeMs float64) error

	// AppendDeliveryLog writes one attempt record.
	AppendDeliveryLog(ctx context.Context, entry *DeliveryLogRecord) error
	// ListDeliveryLogs returns up to limit entries for the subscription,
	// newest first.
	ListDeliveryLogs(ctx context.Context, subscriptionID string, limit int) ([]DeliveryLogRecord, error)

	// AppendDeadLetter writes one dead-letter record.
	AppendDeadLetter(ctx context.Context, entry *DeadLetterRecord) error

	// DeleteDeliveryLogs removes log entries older than the retention window
	// and reports how many were deleted.
	DeleteDeliveryLogs(ctx context.Context, retention time.Duration) (int64, error)
	// DeleteProcessedDeadLetters removes operator-acknowledged dead letters
	// older than the retention window.
	DeleteProcessedDeadLetters(ctx context.Context, retention time.Duration) (int64, error)
}
