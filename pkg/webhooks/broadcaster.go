package webhooks

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Broadcaster fans an event out to every active, subscribed webhook.
// Each subscriber gets its own delivery chain; one subscriber failing to
// schedule never affects the others.
type Broadcaster struct {
	store  Store
	engine *Engine
	logger *observability.Logger
}

// NewBroadcaster wires a broadcaster over a store and delivery engine
func NewBroadcaster(store Store, engine *Engine, logger *observability.Logger) *Broadcaster {
	return &Broadcaster{store: store, engine: engine, logger: logger}
}

// Broadcast builds one event envelope, starts a delivery chain per
// subscriber and returns the envelope and how many chains were
// dispatched. An empty tenantID broadcasts across tenants.
func (b *Broadcaster) Broadcast(ctx context.Context, eventType string, data map[string]interface{}, tenantID string, userID *int64) (*Event, int) {
	event := NewEvent(eventType, data, tenantID, userID)

	subscribers, err := b.store.ListSubscribed(ctx, eventType, tenantID)
	if err != nil {
		b.logger.WithError(err).WithField("event_type", eventType).
			Error("failed to look up webhook subscribers")
		return event, 0
	}

	dispatched := 0
	for _, w := range subscribers {
		if _, err := b.engine.Deliver(ctx, w, event); err != nil {
			b.logger.WithError(err).WithFields(map[string]interface{}{
				"webhook_id": w.ID,
				"event_type": eventType,
			}).Error("failed to dispatch delivery")

			entry := &Log{
				Level:   LogLevelError,
				Message: "failed to dispatch delivery",
				Details: map[string]interface{}{
					"event_type": eventType,
					"event_id":   event.ID,
					"error":      err.Error(),
				},
				WebhookID: w.ID,
			}
			if logErr := b.store.AppendLog(ctx, entry); logErr != nil {
				b.logger.WithError(logErr).Warn("failed to append dispatch log")
			}
			continue
		}
		dispatched++
	}

	b.logger.WithFields(map[string]interface{}{
		"event_type": eventType,
		"event_id":   event.ID,
		"dispatched": dispatched,
	}).Info("event broadcast")
	return event, dispatched
}
