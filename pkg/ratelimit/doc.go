// Package ratelimit implements a fixed-window rate limiter on top of the
// shared cache's atomic counters.
//
// Each request path maps to a bucket rule (exact matches before prefix
// families), whose base limit is scaled by an adaptive load factor derived
// from cache memory pressure and recomputed periodically, not per request.
// A single shared circuit breaker sheds load when the limiter itself is
// rejecting heavily.
//
// The limiter fails open: when the cache backend is unreachable requests
// are allowed and the nominal limit is reported. Availability wins here,
// unlike the permission resolver which fails closed.
package ratelimit
