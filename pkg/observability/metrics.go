package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Permission metrics
	PermissionChecksTotal *prometheus.CounterVec
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheErrorsTotal      *prometheus.CounterVec

	// Rate limit metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	RateLimitLoadFactor     prometheus.Gauge
	CircuitBreakerState     prometheus.Gauge

	// Webhook metrics
	WebhookDeliveriesTotal   *prometheus.CounterVec
	WebhookDeliveryDuration  *prometheus.HistogramVec
	WebhookRetriesTotal      prometheus.Counter
	WebhookAutoDisablesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"namespace"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"namespace"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_errors_total",
				Help: "Total number of cache backend errors",
			},
			[]string{"operation"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_ratelimit_decisions_total",
				Help: "Total number of rate limit decisions",
			},
			[]string{"bucket", "decision"},
		),
		RateLimitLoadFactor: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_ratelimit_load_factor",
				Help: "Current adaptive load factor applied to rate limits",
			},
		),
		CircuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_ratelimit_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"outcome"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_webhook_delivery_duration_seconds",
				Help:    "Webhook delivery attempt duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		WebhookRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_webhook_retries_total",
				Help: "Total number of webhook delivery retries",
			},
		),
		WebhookAutoDisablesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_webhook_auto_disables_total",
				Help: "Total number of webhooks auto-disabled after sustained failures",
			},
		),
	}

	registry.MustRegister(
		m.PermissionChecksTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.RateLimitDecisionsTotal,
		m.RateLimitLoadFactor,
		m.CircuitBreakerState,
		m.WebhookDeliveriesTotal,
		m.WebhookDeliveryDuration,
		m.WebhookRetriesTotal,
		m.WebhookAutoDisablesTotal,
	)

	return m
}

// Handler returns an HTTP handler serving metrics from the given registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
