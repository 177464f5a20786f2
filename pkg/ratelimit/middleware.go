package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
)

// PrincipalFunc extracts an authenticated principal identifier from a
// request, when one is present. Wired by the application so this package
// stays decoupled from the auth layer.
type PrincipalFunc func(r *http.Request) (string, bool)

// Middleware enforces rate limits on an HTTP handler chain
type Middleware struct {
	limiter   *Limiter
	principal PrincipalFunc
}

// NewMiddleware creates rate-limiting middleware. The principal function
// may be nil, in which case all clients are identified by address.
func NewMiddleware(limiter *Limiter, principal PrincipalFunc) *Middleware {
	return &Middleware{
		limiter:   limiter,
		principal: principal,
	}
}

// ClientID identifies the caller: the authenticated principal when known,
// otherwise the first X-Forwarded-For hop, X-Real-IP, or the peer address.
func (m *Middleware) ClientID(r *http.Request) string {
	if m.principal != nil {
		if id, ok := m.principal(r); ok {
			return "user:" + id
		}
	}
	return "ip:" + clientAddr(r)
}

// Handler wraps an HTTP handler with rate limiting. Rejections get a 429
// with Retry-After; both outcomes carry X-RateLimit-* headers so clients
// can back off early.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := m.limiter.Check(r.Context(), m.ClientID(r), r.URL.Path)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt))

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First hop is the original client
		if i := strings.IndexByte(forwarded, ','); i > 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}
