package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func newTestBroadcaster(t *testing.T, store Store) (*Broadcaster, *Engine) {
	t.Helper()
	engine := newTestEngine(t, store)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewBroadcaster(store, engine, logger), engine
}

func TestBroadcastSharedEnvelope(t *testing.T) {
	var mu sync.Mutex
	eventIDs := map[string]bool{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		eventIDs[r.Header.Get("X-Event-ID")] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	broadcaster, engine := newTestBroadcaster(t, store)
	newTestWebhook(t, store, server.URL)
	newTestWebhook(t, store, server.URL)
	newTestWebhook(t, store, server.URL)

	event, dispatched := broadcaster.Broadcast(context.Background(), "user.created", nil, "", nil)
	assert.Equal(t, 3, dispatched)
	require.NoError(t, engine.Drain(5*time.Second))

	// every subscriber saw the same envelope
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]bool{event.ID: true}, eventIDs)
}

func TestBroadcastSkipsUnsubscribedAndInactive(t *testing.T) {
	store := NewMemoryStore()
	broadcaster, engine := newTestBroadcaster(t, store)

	newTestWebhook(t, store, "http://127.0.0.1:1") // subscribed to user.created only

	inactive := newTestWebhook(t, store, "http://127.0.0.1:1")
	inactive.IsActive = false
	require.NoError(t, store.UpdateWebhook(context.Background(), inactive))

	_, dispatched := broadcaster.Broadcast(context.Background(), "user.updated", nil, "", nil)
	assert.Equal(t, 0, dispatched)
	require.NoError(t, engine.Drain(time.Second))

	deliveries, err := store.ListDeliveries(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestBroadcastTenantScoping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	broadcaster, engine := newTestBroadcaster(t, store)

	acme := newTestWebhook(t, store, server.URL)
	acme.TenantID = "acme"
	require.NoError(t, store.UpdateWebhook(context.Background(), acme))

	globex := newTestWebhook(t, store, server.URL)
	globex.TenantID = "globex"
	require.NoError(t, store.UpdateWebhook(context.Background(), globex))

	_, dispatched := broadcaster.Broadcast(context.Background(), "user.created", nil, "acme", nil)
	assert.Equal(t, 1, dispatched)
	require.NoError(t, engine.Drain(5*time.Second))

	deliveries, err := store.ListDeliveries(context.Background(), acme.ID, 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

// dispatchFailStore rejects delivery creation for one webhook so the
// broadcaster's per-subscriber isolation can be observed
type dispatchFailStore struct {
	Store
	failFor string
}

func (s *dispatchFailStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	if d.WebhookID == s.failFor {
		return fmt.Errorf("store rejected delivery for %s", d.WebhookID)
	}
	return s.Store.CreateDelivery(ctx, d)
}

func TestBroadcastFanOutIsolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	memory := NewMemoryStore()
	first := newTestWebhook(t, memory, server.URL)
	broken := newTestWebhook(t, memory, server.URL)
	third := newTestWebhook(t, memory, server.URL)

	store := &dispatchFailStore{Store: memory, failFor: broken.ID}
	broadcaster, engine := newTestBroadcaster(t, store)

	_, dispatched := broadcaster.Broadcast(context.Background(), "user.created", nil, "", nil)
	assert.Equal(t, 2, dispatched)
	require.NoError(t, engine.Drain(5*time.Second))

	ctx := context.Background()
	for _, id := range []string{first.ID, third.ID} {
		deliveries, err := memory.ListDeliveries(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.True(t, deliveries[0].Success)
	}

	// the failing webhook got an error log instead of a delivery
	logs, err := memory.ListLogs(ctx, broken.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, LogLevelError, logs[0].Level)
}

func TestBroadcastEndToEndLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewMemoryStore()
	broadcaster, engine := newTestBroadcaster(t, store)
	ctx := context.Background()

	webhook := &Webhook{
		URL:               server.URL,
		Events:            []string{"user.created"},
		TimeoutSeconds:    5,
		RetryEnabled:      true,
		MaxRetries:        2,
		RetryDelaySeconds: 0,
		IsActive:          true,
	}
	require.NoError(t, store.CreateWebhook(ctx, webhook))

	// unsubscribed event type produces nothing
	_, dispatched := broadcaster.Broadcast(ctx, "user.updated", nil, "", nil)
	assert.Equal(t, 0, dispatched)

	// subscribed event against an always-500 target: exactly max_retries
	// rows, failure count at 2, still active since 2 < 2*2
	_, dispatched = broadcaster.Broadcast(ctx, "user.created", nil, "", nil)
	assert.Equal(t, 1, dispatched)
	require.NoError(t, engine.Drain(5*time.Second))

	deliveries, err := store.ListDeliveries(ctx, webhook.ID, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.False(t, d.Success)
		require.NotNil(t, d.StatusCode)
		assert.Equal(t, http.StatusInternalServerError, *d.StatusCode)
	}

	state, err := store.GetWebhook(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.FailureCount)
	assert.True(t, state.IsActive)

	// two more broadcasts push the count to 4 and auto-disable
	engine2 := newTestEngine(t, store)
	broadcaster2 := NewBroadcaster(store, engine2, observability.NewLogger(observability.ErrorLevel, io.Discard))

	broadcaster2.Broadcast(ctx, "user.created", nil, "", nil)
	require.NoError(t, engine2.Drain(5*time.Second))

	engine3 := newTestEngine(t, store)
	broadcaster3 := NewBroadcaster(store, engine3, observability.NewLogger(observability.ErrorLevel, io.Discard))
	broadcaster3.Broadcast(ctx, "user.created", nil, "", nil)
	require.NoError(t, engine3.Drain(5*time.Second))

	state, err = store.GetWebhook(ctx, webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, state.FailureCount)
	assert.False(t, state.IsActive)
}
