package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func newTestHandlers(t *testing.T) (*Handlers, *MemoryStore, *Engine) {
	t.Helper()

	store := NewMemoryStore()
	engine := newTestEngine(t, store)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	broadcaster := NewBroadcaster(store, engine, logger)
	return NewHandlers(store, engine, broadcaster, logger), store, engine
}

func serveJSON(t *testing.T, h *Handlers, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateWebhookDefaults(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := serveJSON(t, h, "POST", "/webhooks", map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.True(t, created.RetryEnabled)
	assert.Equal(t, 3, created.MaxRetries)
	assert.Equal(t, 10, created.TimeoutSeconds)
	assert.Equal(t, 60, created.RetryDelaySeconds)
}

func TestCreateWebhookValidation(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	for name, body := range map[string]map[string]interface{}{
		"missing url":    {"events": []string{"user.created"}},
		"bad url scheme": {"url": "ftp://example.com", "events": []string{"user.created"}},
		"no events":      {"url": "https://example.com"},
	} {
		rec := serveJSON(t, h, "POST", "/webhooks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestGetWebhookNotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := serveJSON(t, h, "GET", "/webhooks/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWebhook(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")

	rec := serveJSON(t, h, "PUT", "/webhooks/"+webhook.ID, map[string]interface{}{
		"url":         "https://example.com/v2",
		"events":      []string{"user.created", "user.deleted"},
		"max_retries": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetWebhook(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v2", got.URL)
	assert.Len(t, got.Events, 2)
	assert.Equal(t, 5, got.MaxRetries)
}

func TestDeleteWebhook(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")

	rec := serveJSON(t, h, "DELETE", "/webhooks/"+webhook.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.GetWebhook(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestActivateResetsFailureCount(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")
	webhook.IsActive = false
	webhook.FailureCount = 6
	require.NoError(t, store.UpdateWebhook(context.Background(), webhook))

	rec := serveJSON(t, h, "POST", "/webhooks/"+webhook.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetWebhook(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, 0, got.FailureCount)
}

func TestDeactivateWebhook(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")

	rec := serveJSON(t, h, "POST", "/webhooks/"+webhook.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetWebhook(context.Background(), webhook.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestListDeliveriesAndLogsEndpoints(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")
	ctx := context.Background()

	require.NoError(t, store.CreateDelivery(ctx, &Delivery{WebhookID: webhook.ID, AttemptNumber: 1}))
	require.NoError(t, store.AppendLog(ctx, &Log{Level: LogLevelInfo, Message: "delivered", WebhookID: webhook.ID}))

	rec := serveJSON(t, h, "GET", "/webhooks/"+webhook.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deliveries []*Delivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deliveries))
	assert.Len(t, deliveries, 1)

	rec = serveJSON(t, h, "GET", "/webhooks/"+webhook.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []*Log
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.Len(t, logs, 1)
}

func TestStatsEndpoints(t *testing.T) {
	h, store, _ := newTestHandlers(t)
	webhook := newTestWebhook(t, store, "https://example.com/hook")
	ctx := context.Background()

	ok := 200
	require.NoError(t, store.CreateDelivery(ctx, &Delivery{
		WebhookID: webhook.ID, EventType: "user.created",
		StatusCode: &ok, Success: true, DurationMS: 120,
		CreatedAt: time.Now().UTC(),
	}))

	rec := serveJSON(t, h, "GET", "/webhooks/"+webhook.ID+"/stats?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats DeliveryStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.WindowDays)
	assert.Equal(t, 1, stats.TotalDeliveries)
	assert.Equal(t, 1.0, stats.SuccessRate)

	rec = serveJSON(t, h, "GET", "/webhooks/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 30, stats.WindowDays)
	assert.Equal(t, 1, stats.TotalDeliveries)
}

func TestBroadcastEndpoint(t *testing.T) {
	h, store, engine := newTestHandlers(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	webhook := newTestWebhook(t, store, server.URL)

	rec := serveJSON(t, h, "POST", "/events/broadcast", map[string]interface{}{
		"event_type": "user.created",
		"data":       map[string]interface{}{"email": "a@b.c"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["dispatched"])
	assert.NotEmpty(t, resp["event_id"])

	require.NoError(t, engine.Drain(5*time.Second))
	deliveries, err := store.ListDeliveries(context.Background(), webhook.ID, 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestBroadcastEndpointRequiresEventType(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := serveJSON(t, h, "POST", "/events/broadcast", map[string]interface{}{"data": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
