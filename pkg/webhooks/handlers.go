package webhooks

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Handlers provides the webhook management and broadcast HTTP surface
type Handlers struct {
	store       Store
	engine      *Engine
	broadcaster *Broadcaster
	logger      *observability.Logger
}

// NewHandlers creates new webhook handlers
func NewHandlers(store Store, engine *Engine, broadcaster *Broadcaster, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:       store,
		engine:      engine,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createWebhook).Methods("POST")
	router.HandleFunc("/webhooks", h.listWebhooks).Methods("GET")
	router.HandleFunc("/webhooks/stats", h.globalStats).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.getWebhook).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods("PUT")
	router.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/activate", h.activateWebhook).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deactivate", h.deactivateWebhook).Methods("POST")
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods("GET")
	router.HandleFunc("/webhooks/{id}/logs", h.listLogs).Methods("GET")
	router.HandleFunc("/webhooks/{id}/stats", h.webhookStats).Methods("GET")
	router.HandleFunc("/events/broadcast", h.broadcast).Methods("POST")
}

type webhookRequest struct {
	TenantID          string            `json:"tenant_id"`
	UserID            int64             `json:"user_id"`
	URL               string            `json:"url"`
	Secret            string            `json:"secret"`
	Events            []string          `json:"events"`
	CustomHeaders     map[string]string `json:"custom_headers"`
	Description       string            `json:"description"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	RetryEnabled      *bool             `json:"retry_enabled"`
	MaxRetries        int               `json:"max_retries"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds"`
}

func (req *webhookRequest) validate() string {
	if req.URL == "" {
		return "url is required"
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "url must be a valid http(s) URL"
	}
	if len(req.Events) == 0 {
		return "at least one event type is required"
	}
	return ""
}

// apply copies the request onto a webhook, filling defaults for
// unspecified tuning knobs
func (req *webhookRequest) apply(w *Webhook) {
	w.TenantID = req.TenantID
	w.UserID = req.UserID
	w.URL = req.URL
	w.Secret = req.Secret
	w.Events = req.Events
	w.CustomHeaders = req.CustomHeaders
	w.Description = req.Description

	w.TimeoutSeconds = req.TimeoutSeconds
	if w.TimeoutSeconds <= 0 {
		w.TimeoutSeconds = 10
	}
	w.RetryEnabled = true
	if req.RetryEnabled != nil {
		w.RetryEnabled = *req.RetryEnabled
	}
	w.MaxRetries = req.MaxRetries
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}
	w.RetryDelaySeconds = 60
	if req.RetryDelaySeconds != nil && *req.RetryDelaySeconds >= 0 {
		w.RetryDelaySeconds = *req.RetryDelaySeconds
	}
}

// createWebhook handles POST /webhooks
func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, msg)
		return
	}

	webhook := &Webhook{IsActive: true}
	req.apply(webhook)

	if err := h.store.CreateWebhook(r.Context(), webhook); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"webhook_id": webhook.ID,
		"url":        webhook.URL,
		"events":     webhook.Events,
	}).Info("webhook created")
	httputil.WriteCreated(w, webhook)
}

// listWebhooks handles GET /webhooks
func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.store.ListWebhooks(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if webhooks == nil {
		webhooks = []*Webhook{}
	}
	httputil.WriteSuccess(w, webhooks)
}

// getWebhook handles GET /webhooks/{id}
func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, webhook)
}

// updateWebhook handles PUT /webhooks/{id}
func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, msg)
		return
	}

	req.apply(webhook)
	if err := h.store.UpdateWebhook(r.Context(), webhook); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteSuccess(w, webhook)
}

// deleteWebhook handles DELETE /webhooks/{id}
func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), webhook.ID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteNoContent(w)
}

// activateWebhook handles POST /webhooks/{id}/activate. Reactivating
// also clears the failure count so an auto-disabled webhook gets a full
// retry budget back.
func (h *Handlers) activateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// deactivateWebhook handles POST /webhooks/{id}/deactivate
func (h *Handlers) deactivateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	webhook.IsActive = active
	if active {
		webhook.FailureCount = 0
	}
	if err := h.store.UpdateWebhook(r.Context(), webhook); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteSuccess(w, webhook)
}

// listDeliveries handles GET /webhooks/{id}/deliveries
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	deliveries, err := h.store.ListDeliveries(r.Context(), webhook.ID, queryInt(r, "limit", 50))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if deliveries == nil {
		deliveries = []*Delivery{}
	}
	httputil.WriteSuccess(w, deliveries)
}

// listLogs handles GET /webhooks/{id}/logs
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	logs, err := h.store.ListLogs(r.Context(), webhook.ID, queryInt(r, "limit", 100))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []*Log{}
	}
	httputil.WriteSuccess(w, logs)
}

// webhookStats handles GET /webhooks/{id}/stats
func (h *Handlers) webhookStats(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.lookup(w, r)
	if !ok {
		return
	}

	stats, err := h.engine.Stats(r.Context(), webhook.ID, queryInt(r, "days", 30))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// globalStats handles GET /webhooks/stats
func (h *Handlers) globalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context(), "", queryInt(r, "days", 30))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// broadcast handles POST /events/broadcast
func (h *Handlers) broadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string                 `json:"event_type"`
		Data      map[string]interface{} `json:"data"`
		TenantID  string                 `json:"tenant_id"`
		UserID    *int64                 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if body.EventType == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "event_type is required")
		return
	}

	event, dispatched := h.broadcaster.Broadcast(r.Context(), body.EventType, body.Data, body.TenantID, body.UserID)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"dispatched": dispatched,
	})
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*Webhook, bool) {
	id := mux.Vars(r)["id"]
	webhook, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if webhook == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "webhook not found")
		return nil, false
	}
	return webhook, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
