// Package cache provides the Redis-backed key/value store fronting the
// permission resolver, rate limiter, and session-adjacent concerns.
//
// The cache is advisory, never authoritative: every operation is safe to
// call while the backing store is unreachable. Get degrades to a miss,
// Set/Delete report false, and Increment reports zero. Errors never
// propagate past this package's boundary; they are logged and counted.
//
// Keys are namespaced per concern (user, permissions, roles, session,
// rate_limit, oauth_state, query) so bulk invalidation by pattern is
// possible. A small in-process LRU fronts the Redis client for hot
// permission reads; it is purged pessimistically on any delete.
package cache
