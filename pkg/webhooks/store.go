package webhooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists webhooks, delivery attempts and audit logs. Lookups for
// absent records return (nil, nil); errors are reserved for backend
// failures and constraint violations.
type Store interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, w *Webhook) error
	DeleteWebhook(ctx context.Context, id string) error

	// ListSubscribed returns active webhooks subscribed to eventType,
	// scoped to tenantID when non-empty
	ListSubscribed(ctx context.Context, eventType, tenantID string) ([]*Webhook, error)

	// RecordOutcome applies one attempt's result to the webhook's
	// failure accounting as a single atomic update, so concurrent
	// delivery chains for the same webhook never lose increments.
	// disabled reports whether this outcome tripped the auto-disable
	// threshold; the returned record is the post-update state.
	RecordOutcome(ctx context.Context, webhookID string, success bool, at time.Time) (w *Webhook, disabled bool, err error)

	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error)
	// ListDeliveriesSince returns attempts created at or after since;
	// webhookID "" means all webhooks
	ListDeliveriesSince(ctx context.Context, webhookID string, since time.Time) ([]*Delivery, error)

	AppendLog(ctx context.Context, entry *Log) error
	ListLogs(ctx context.Context, webhookID string, limit int) ([]*Log, error)
	// PruneLogs drops log entries created before cutoff and reports how
	// many were removed
	PruneLogs(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is an in-process Store guarded by a single RWMutex. It
// hands out copies so callers can mutate records freely before writing
// them back.
type MemoryStore struct {
	mu         sync.RWMutex
	webhooks   map[string]*Webhook
	deliveries map[string]*Delivery
	logs       []*Log
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   make(map[string]*Webhook),
		deliveries: make(map[string]*Delivery),
	}
}

func copyWebhook(w *Webhook) *Webhook {
	c := *w
	c.Events = append([]string(nil), w.Events...)
	if w.CustomHeaders != nil {
		c.CustomHeaders = make(map[string]string, len(w.CustomHeaders))
		for k, v := range w.CustomHeaders {
			c.CustomHeaders[k] = v
		}
	}
	return &c
}

func copyDelivery(d *Delivery) *Delivery {
	c := *d
	if d.StatusCode != nil {
		sc := *d.StatusCode
		c.StatusCode = &sc
	}
	if d.ResponseHeaders != nil {
		c.ResponseHeaders = make(map[string]string, len(d.ResponseHeaders))
		for k, v := range d.ResponseHeaders {
			c.ResponseHeaders[k] = v
		}
	}
	if d.DeliveredAt != nil {
		at := *d.DeliveredAt
		c.DeliveredAt = &at
	}
	return &c
}

// CreateWebhook assigns an id and timestamps when missing and stores a
// copy of the record
func (s *MemoryStore) CreateWebhook(_ context.Context, w *Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if _, ok := s.webhooks[w.ID]; ok {
		return fmt.Errorf("webhook %s already exists", w.ID)
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	s.webhooks[w.ID] = copyWebhook(w)
	return nil
}

func (s *MemoryStore) GetWebhook(_ context.Context, id string) (*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, nil
	}
	return copyWebhook(w), nil
}

// ListWebhooks returns webhooks ordered by creation time, scoped to
// tenantID when non-empty
func (s *MemoryStore) ListWebhooks(_ context.Context, tenantID string) ([]*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Webhook
	for _, w := range s.webhooks {
		if tenantID != "" && w.TenantID != tenantID {
			continue
		}
		out = append(out, copyWebhook(w))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateWebhook(_ context.Context, w *Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[w.ID]; !ok {
		return fmt.Errorf("webhook %s not found", w.ID)
	}
	s.webhooks[w.ID] = copyWebhook(w)
	return nil
}

func (s *MemoryStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[id]; !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(s.webhooks, id)
	return nil
}

func (s *MemoryStore) ListSubscribed(_ context.Context, eventType, tenantID string) ([]*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Webhook
	for _, w := range s.webhooks {
		if !w.IsActive || !w.IsSubscribed(eventType) {
			continue
		}
		if tenantID != "" && w.TenantID != tenantID {
			continue
		}
		out = append(out, copyWebhook(w))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, webhookID string, success bool, at time.Time) (*Webhook, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[webhookID]
	if !ok {
		return nil, false, fmt.Errorf("webhook %s not found", webhookID)
	}
	disabled := false
	if success {
		w.MarkSuccess(at)
	} else {
		disabled = w.MarkFailure(at)
	}
	return copyWebhook(w), disabled, nil
}

func (s *MemoryStore) CreateDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, ok := s.deliveries[d.ID]; ok {
		return fmt.Errorf("delivery %s already exists", d.ID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

// UpdateDelivery records an attempt outcome. A delivery that already has
// DeliveredAt set is immutable.
func (s *MemoryStore) UpdateDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.deliveries[d.ID]
	if !ok {
		return fmt.Errorf("delivery %s not found", d.ID)
	}
	if existing.DeliveredAt != nil {
		return fmt.Errorf("delivery %s is already finalized", d.ID)
	}
	s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, nil
	}
	return copyDelivery(d), nil
}

// ListDeliveries returns attempts for a webhook, newest first, capped at
// limit when positive
func (s *MemoryStore) ListDeliveries(_ context.Context, webhookID string, limit int) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Delivery
	for _, d := range s.deliveries {
		if webhookID != "" && d.WebhookID != webhookID {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AttemptNumber > out[j].AttemptNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDeliveriesSince(_ context.Context, webhookID string, since time.Time) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Delivery
	for _, d := range s.deliveries {
		if webhookID != "" && d.WebhookID != webhookID {
			continue
		}
		if d.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, entry *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c := *entry
	s.logs = append(s.logs, &c)
	return nil
}

// ListLogs returns audit entries, newest first, scoped to webhookID when
// non-empty and capped at limit when positive
func (s *MemoryStore) ListLogs(_ context.Context, webhookID string, limit int) ([]*Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Log
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if webhookID != "" && entry.WebhookID != webhookID {
			continue
		}
		c := *entry
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneLogs(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	pruned := 0
	for _, entry := range s.logs {
		if entry.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return pruned, nil
}
