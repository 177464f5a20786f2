// Package observability provides structured logging and Prometheus metrics
// for the gatekeeper service.
//
// The Logger wraps log/slog with a JSON handler and context helpers so that
// request-scoped fields (request ID, user ID) flow through permission checks,
// rate limiting, and webhook delivery without threading a logger argument
// through every call.
//
// Metrics are registered on a dedicated registry so tests can create
// isolated instances without fighting the default global registry.
package observability
