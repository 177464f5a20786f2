package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Webhook is a tenant-owned subscription to event types
type Webhook struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id,omitempty"`
	UserID        int64             `json:"user_id,omitempty"`
	URL           string            `json:"url"`
	Secret        string            `json:"secret,omitempty"`
	Events        []string          `json:"events"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	Description   string            `json:"description,omitempty"`

	TimeoutSeconds    int  `json:"timeout_seconds"`
	RetryEnabled      bool `json:"retry_enabled"`
	MaxRetries        int  `json:"max_retries"`
	RetryDelaySeconds int  `json:"retry_delay_seconds"`

	IsActive        bool       `json:"is_active"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSubscribed reports whether the webhook subscribes to the event type
func (w *Webhook) IsSubscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// MarkSuccess resets the failure count and stamps the success and trigger
// times.
func (w *Webhook) MarkSuccess(now time.Time) {
	w.FailureCount = 0
	w.LastSuccessAt = &now
	w.LastTriggeredAt = &now
	w.UpdatedAt = now
}

// MarkFailure increments the failure count and stamps the failure and
// trigger times. The webhook auto-disables once the count reaches twice
// its retry budget; the return value reports whether that happened now.
func (w *Webhook) MarkFailure(now time.Time) bool {
	w.FailureCount++
	w.LastFailureAt = &now
	w.LastTriggeredAt = &now
	w.UpdatedAt = now

	if w.IsActive && w.FailureCount >= 2*w.MaxRetries {
		w.IsActive = false
		return true
	}
	return false
}

// ShouldRetry reports whether a failed attempt is eligible for another
// try: retries enabled, failure budget not exhausted, webhook still
// active.
func (w *Webhook) ShouldRetry() bool {
	return w.RetryEnabled && w.FailureCount < w.MaxRetries && w.IsActive
}

// Timeout returns the per-attempt delivery timeout
func (w *Webhook) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// RetryDelay returns the wait between attempts
func (w *Webhook) RetryDelay() time.Duration {
	return time.Duration(w.RetryDelaySeconds) * time.Second
}

// Delivery is one delivery attempt. A logical delivery with retries
// produces one record per attempt; records are immutable once
// DeliveredAt is set.
type Delivery struct {
	ID        string `json:"id"`
	WebhookID string `json:"webhook_id"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Payload   string `json:"payload"`

	// AttemptNumber is 1-based and increments per retry
	AttemptNumber int `json:"attempt_number"`

	// StatusCode is set only when a response was received; a timeout or
	// transport failure leaves it nil and populates ErrorMessage instead
	StatusCode      *int              `json:"status_code,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
	Success         bool              `json:"success"`
	ErrorMessage    string            `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Log levels for the webhook audit trail
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// Log is an append-only audit trail entry, optionally tied to a webhook
// and/or a delivery
type Log struct {
	ID         string                 `json:"id"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	WebhookID  string                 `json:"webhook_id,omitempty"`
	DeliveryID string                 `json:"delivery_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Event is the envelope broadcast to subscribers. One broadcast produces
// a single envelope shared by every subscriber's delivery chain.
type Event struct {
	Type      string                 `json:"event_type"`
	ID        string                 `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	UserID    *int64                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent builds an event envelope with a fresh id and a UTC timestamp
func NewEvent(eventType string, data map[string]interface{}, tenantID string, userID *int64) *Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Event{
		Type:      eventType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		UserID:    userID,
		Data:      data,
	}
}
