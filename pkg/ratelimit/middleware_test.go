package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareHeadersAndRejection(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)
	mw := NewMiddleware(limiter, nil)
	handler := mw.Handler(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/t/widgets", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	req := httptest.NewRequest("GET", "/t/widgets", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestClientIDPrecedence(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)

	principal := func(r *http.Request) (string, bool) {
		if r.Header.Get("X-Test-User") != "" {
			return r.Header.Get("X-Test-User"), true
		}
		return "", false
	}
	mw := NewMiddleware(limiter, principal)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Test-User", "42")
	assert.Equal(t, "user:42", mw.ClientID(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	assert.Equal(t, "ip:9.9.9.9", mw.ClientID(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "8.8.8.8")
	assert.Equal(t, "ip:8.8.8.8", mw.ClientID(req))

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "7.7.7.7:1234"
	assert.Equal(t, "ip:7.7.7.7:1234", mw.ClientID(req))
}
