package webhooks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the knowledge-management API.
const (
	EventSpaceCreated = "space.created"
	EventSpaceUpdated = "space.updated"
	EventSpaceDeleted = "space.deleted"

	EventDocumentAdded     = "document.added"
	EventDocumentProcessed = "document.processed"
	EventDocumentDeleted   = "document.deleted"

	EventQuerySubmitted = "query.submitted"
	EventQueryCompleted = "query.completed"
	EventQueryFailed    = "query.failed"

	// EventWebhookTest is the operator-triggered verification event.
	EventWebhookTest = "webhook.test"
)

// Event is a single domain occurrence. It is immutable once constructed;
// the delivery subsystem never mutates it.
type Event struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Data      map[string]any `json:"data"`
}

// NewEvent constructs an event with a generated id and the current UTC
// timestamp.
func NewEvent(eventType, tenantID string, data map[string]any) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("event_type is required")
	}
	if tenantID == "" {
		return Event{}, fmt.Errorf("tenant_id is required")
	}
	if data == nil {
		data = make(map[string]any)
	}
	return Event{
		EventType: eventType,
		EventID:   "evt_" + shortID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TenantID:  tenantID,
		Data:      data,
	}, nil
}

// NewTestEvent builds the synthetic event used for manual endpoint
// verification. eventType defaults to EventWebhookTest when empty.
func NewTestEvent(eventType, tenantID string) Event {
	if eventType == "" {
		eventType = EventWebhookTest
	}
	return Event{
		EventType: eventType,
		EventID:   "evt_test_" + shortID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TenantID:  tenantID,
		Data: map[string]any{
			"test":    true,
			"message": "This is a test event",
		},
	}
}

// DeliveryTask is one pending delivery of an event to one subscription.
// Tasks are consumed exactly once and are not persisted: queued and
// in-flight tasks are lost if the process terminates.
type DeliveryTask struct {
	SubscriptionID string
	TenantID       string
	Event          Event
	EnqueuedAt     time.Time
}

// AttemptResult is the classified outcome of a single delivery attempt.
type AttemptResult struct {
	Success        bool
	StatusCode     int // 0 when no HTTP response was received
	ResponseTimeMs float64
	ResponseBody   string // truncated to maxResponseBodyBytes
	ErrorMessage   string
}

func shortID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}
