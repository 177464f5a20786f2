package ratelimit

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/cache"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Result is the outcome of a rate-limit check
type Result struct {
	Allowed bool `json:"allowed"`
	// Limit is the effective limit after load-factor scaling
	Limit int `json:"limit"`
	// Remaining is how many requests are left in the current window
	Remaining int `json:"remaining"`
	// ResetAt is the window reset time in epoch seconds
	ResetAt int64 `json:"reset_at"`
	// RetryAfter is how long to wait before retrying a rejected request
	RetryAfter time.Duration `json:"-"`
}

// Stats reports limiter-wide counters for the dashboard surface
type Stats struct {
	TrackedClients           int64   `json:"total_tracked_clients"`
	AverageRequestsPerClient float64 `json:"average_requests_per_client"`
	LoadFactor               float64 `json:"load_factor"`
	CircuitBreakerState      string  `json:"circuit_breaker_state"`
}

// Limiter enforces per-client fixed-window limits backed by the shared
// cache's atomic counters.
type Limiter struct {
	cache   *cache.Cache
	rules   []Rule
	breaker *CircuitBreaker
	logger  *observability.Logger
	metrics *observability.Metrics

	// load factor in [0.5, 1.0], stored as float64 bits
	loadFactor atomic.Uint64
}

// NewLimiter creates a new limiter. A nil rules slice selects
// DefaultRules; the metrics parameter may be nil.
func NewLimiter(c *cache.Cache, rules []Rule, breaker *CircuitBreaker, logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(0, 0)
	}

	l := &Limiter{
		cache:   c,
		rules:   rules,
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
	}
	l.loadFactor.Store(math.Float64bits(1.0))
	return l
}

// Check counts one request for (clientID, path's bucket) and reports
// whether it is allowed. A zero count from the cache means the backend is
// unreachable; the limiter then fails open, reporting the nominal limit.
func (l *Limiter) Check(ctx context.Context, clientID, path string) Result {
	rule := MatchRule(l.rules, path)
	limit := l.effectiveLimit(rule)
	now := time.Now()

	if !l.breaker.Allow() {
		l.countDecision(rule.Name, "shed")
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    now.Add(rule.Window).Unix(),
			RetryAfter: rule.Window,
		}
	}

	key := cache.Key(cache.NamespaceRateLimit, rule.Name, clientID)
	count := l.cache.Increment(ctx, key, rule.Window)
	if count == 0 {
		// Backend unreachable. Allow but do not trust the count.
		l.countDecision(rule.Name, "fail_open")
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(rule.Window).Unix(),
		}
	}

	reset := l.cache.TTL(ctx, key)
	if reset <= 0 {
		reset = rule.Window
	}

	if count > int64(limit) {
		l.breaker.RecordFailure()
		l.countDecision(rule.Name, "rejected")
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    now.Add(reset).Unix(),
			RetryAfter: reset,
		}
	}

	l.breaker.RecordSuccess()
	l.countDecision(rule.Name, "allowed")
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		ResetAt:   now.Add(reset).Unix(),
	}
}

// Reset clears the window counter for a client and path bucket
func (l *Limiter) Reset(ctx context.Context, clientID, path string) {
	rule := MatchRule(l.rules, path)
	l.cache.Delete(ctx, cache.Key(cache.NamespaceRateLimit, rule.Name, clientID))
}

// LoadFactor returns the current adaptive load factor
func (l *Limiter) LoadFactor() float64 {
	return math.Float64frombits(l.loadFactor.Load())
}

// RefreshLoadFactor recomputes the load factor from cache memory
// pressure: above 80% used it halves limits, above 60% it scales to 0.7.
// Called periodically from a maintenance job, never per request.
func (l *Limiter) RefreshLoadFactor(ctx context.Context) {
	used := l.cache.MemoryUsedFraction(ctx)

	factor := 1.0
	switch {
	case used > 0.8:
		factor = 0.5
	case used > 0.6:
		factor = 0.7
	}

	l.loadFactor.Store(math.Float64bits(factor))
	if l.metrics != nil {
		l.metrics.RateLimitLoadFactor.Set(factor)
		l.metrics.CircuitBreakerState.Set(float64(l.breaker.State()))
	}
	l.logger.WithFields(map[string]interface{}{
		"memory_used": used,
		"load_factor": factor,
	}).Debug("refreshed rate limit load factor")
}

// Stats reports tracked clients, the average window count per client
// (zero when nothing is tracked), the load factor, and the breaker state.
func (l *Limiter) Stats(ctx context.Context) Stats {
	clients, total := l.cache.SumCounters(ctx, cache.NamespaceRateLimit+":*")

	divisor := clients
	if divisor < 1 {
		divisor = 1
	}

	return Stats{
		TrackedClients:           clients,
		AverageRequestsPerClient: float64(total) / float64(divisor),
		LoadFactor:               l.LoadFactor(),
		CircuitBreakerState:      l.breaker.State().String(),
	}
}

func (l *Limiter) effectiveLimit(rule Rule) int {
	limit := int(math.Floor(float64(rule.Limit) * l.LoadFactor()))
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (l *Limiter) countDecision(bucket, decision string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisionsTotal.WithLabelValues(bucket, decision).Inc()
	}
}
