package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// ErrNotSubscribed is returned by Deliver when the webhook does not
// subscribe to the event's type
var ErrNotSubscribed = errors.New("webhook not subscribed to event type")

const (
	userAgent = "gatekeeper-webhooks/1.0"

	// response bodies are truncated before persisting
	maxResponseBody = 64 * 1024
)

// RetryPolicy decides the wait before the next attempt of a failed
// delivery. attempt is the 1-based number of the attempt that just
// failed.
type RetryPolicy interface {
	NextDelay(w *Webhook, attempt int) time.Duration
}

// FixedDelayPolicy waits the webhook's configured retry delay between
// every pair of attempts
type FixedDelayPolicy struct{}

func (FixedDelayPolicy) NextDelay(w *Webhook, _ int) time.Duration {
	return w.RetryDelay()
}

// Engine executes delivery chains. Deliver persists a pending attempt,
// hands the chain to the worker pool and returns immediately; retries
// run sequentially within the chain, each producing its own Delivery
// record.
type Engine struct {
	store   Store
	client  *http.Client
	pool    *async.WorkerPool
	policy  RetryPolicy
	logger  *observability.Logger
	metrics *observability.Metrics

	now func() time.Time
}

// NewEngine wires a delivery engine. client may be nil for a default
// 30s-capped client; per-attempt timeouts come from each webhook.
func NewEngine(store Store, client *http.Client, pool *async.WorkerPool, policy RetryPolicy, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy == nil {
		policy = FixedDelayPolicy{}
	}
	return &Engine{
		store:   store,
		client:  client,
		pool:    pool,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Deliver starts an asynchronous delivery chain for one webhook and
// returns the pending first-attempt record as a handle. The caller's
// context is not carried into the chain; the pool's lifecycle context
// governs it so an HTTP request finishing early cannot cancel delivery.
func (e *Engine) Deliver(ctx context.Context, w *Webhook, event *Event) (*Delivery, error) {
	if !w.IsSubscribed(event.Type) {
		return nil, ErrNotSubscribed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", event.ID, err)
	}

	first := e.newAttempt(w, event, payload, 1)
	if err := e.store.CreateDelivery(ctx, first); err != nil {
		return nil, fmt.Errorf("recording delivery attempt: %w", err)
	}

	wh := copyWebhook(w)
	handle := copyDelivery(first)
	if err := e.pool.Submit(func(taskCtx context.Context) {
		e.runChain(taskCtx, wh, event, payload, first)
	}); err != nil {
		return nil, fmt.Errorf("scheduling delivery %s: %w", first.ID, err)
	}
	return handle, nil
}

// Drain waits for in-flight delivery chains to finish
func (e *Engine) Drain(timeout time.Duration) error {
	return e.pool.Drain(timeout)
}

func (e *Engine) newAttempt(w *Webhook, event *Event, payload []byte, attempt int) *Delivery {
	return &Delivery{
		WebhookID:     w.ID,
		EventType:     event.Type,
		EventID:       event.ID,
		Payload:       string(payload),
		AttemptNumber: attempt,
		CreatedAt:     e.now(),
	}
}

// runChain drives one webhook's attempts to completion. The webhook
// record passed in is the chain's private copy; persisted state is
// written back through the store after every attempt.
func (e *Engine) runChain(ctx context.Context, w *Webhook, event *Event, payload []byte, d *Delivery) {
	for {
		e.attempt(ctx, w, payload, d)

		if d.Success || !w.ShouldRetry() || d.AttemptNumber >= w.MaxRetries {
			return
		}

		delay := e.policy.NextDelay(w, d.AttemptNumber)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return
		}

		next := e.newAttempt(w, event, payload, d.AttemptNumber+1)
		if err := e.store.CreateDelivery(ctx, next); err != nil {
			e.logger.WithError(err).WithField("webhook_id", w.ID).
				Error("failed to record retry attempt")
			return
		}
		if e.metrics != nil {
			e.metrics.WebhookRetriesTotal.Inc()
		}
		d = next
	}
}

// attempt performs one HTTP POST, finalizes the delivery record and
// updates the webhook's failure accounting
func (e *Engine) attempt(ctx context.Context, w *Webhook, payload []byte, d *Delivery) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, w.Timeout())
	defer cancel()

	resp, err := e.post(reqCtx, w, d, payload)
	d.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		d.Success = false
		d.ErrorMessage = err.Error()
	} else {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()

		code := resp.StatusCode
		d.StatusCode = &code
		d.ResponseBody = string(body)
		d.ResponseHeaders = flattenHeaders(resp.Header)
		d.Success = code >= 200 && code < 300
	}

	now := e.now()
	d.DeliveredAt = &now
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.WithError(err).WithField("delivery_id", d.ID).
			Error("failed to finalize delivery record")
	}

	// failure accounting goes through the store so chains running
	// concurrently against the same webhook never lose increments
	updated, disabled, err := e.store.RecordOutcome(ctx, w.ID, d.Success, now)
	if err != nil {
		e.logger.WithError(err).WithField("webhook_id", w.ID).
			Error("failed to persist webhook state")
		if d.Success {
			w.MarkSuccess(now)
		} else {
			disabled = w.MarkFailure(now)
		}
	} else {
		*w = *updated
	}

	if d.Success {
		e.observe(ctx, w, d, "success")
	} else {
		e.observe(ctx, w, d, "failure")
		if disabled {
			e.autoDisabled(ctx, w)
		}
	}
}

func (e *Engine) post(ctx context.Context, w *Webhook, d *Delivery, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-ID", w.ID)
	req.Header.Set("X-Event-Type", d.EventType)
	req.Header.Set("X-Event-ID", d.EventID)
	req.Header.Set("X-Delivery-ID", d.ID)
	req.Header.Set("X-Timestamp", e.now().Format(time.RFC3339))
	if w.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Signature(w.Secret, payload))
	}
	// custom headers apply last so subscribers can override defaults,
	// but never the signature
	for k, v := range w.CustomHeaders {
		if http.CanonicalHeaderKey(k) == "X-Webhook-Signature" {
			continue
		}
		req.Header.Set(k, v)
	}

	return e.client.Do(req)
}

func (e *Engine) observe(ctx context.Context, w *Webhook, d *Delivery, outcome string) {
	if e.metrics != nil {
		e.metrics.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
		e.metrics.WebhookDeliveryDuration.WithLabelValues(outcome).Observe(float64(d.DurationMS) / 1000.0)
	}

	details := map[string]interface{}{
		"attempt":     d.AttemptNumber,
		"duration_ms": d.DurationMS,
	}
	if d.StatusCode != nil {
		details["status_code"] = *d.StatusCode
	}
	if d.ErrorMessage != "" {
		details["error"] = d.ErrorMessage
	}

	level := LogLevelInfo
	message := "delivery succeeded"
	if outcome == "failure" {
		level = LogLevelWarning
		message = "delivery failed"
	}
	entry := &Log{
		Level:      level,
		Message:    message,
		Details:    details,
		WebhookID:  w.ID,
		DeliveryID: d.ID,
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.WithError(err).Warn("failed to append delivery log")
	}
}

func (e *Engine) autoDisabled(ctx context.Context, w *Webhook) {
	if e.metrics != nil {
		e.metrics.WebhookAutoDisablesTotal.Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"webhook_id":    w.ID,
		"failure_count": w.FailureCount,
	}).Warn("webhook auto-disabled after repeated failures")

	entry := &Log{
		Level:   LogLevelError,
		Message: "webhook disabled after repeated delivery failures",
		Details: map[string]interface{}{
			"failure_count": w.FailureCount,
			"max_retries":   w.MaxRetries,
		},
		WebhookID: w.ID,
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.WithError(err).Warn("failed to append auto-disable log")
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
