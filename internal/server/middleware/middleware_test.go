package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		method string
		header map[string]string
		want   int
	}{
		{"missing token", "/api/markets/1", http.MethodGet, nil, http.StatusUnauthorized},
		{"bearer", "/api/markets/1", http.MethodGet, map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/markets/1", http.MethodGet, map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong key", "/api/markets/1", http.MethodGet, map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"public path", "/api/health", http.MethodGet, nil, http.StatusOK},
		{"preflight", "/api/markets/1", http.MethodOptions, nil, http.StatusOK},
		{"query key ignored without upgrade", "/api/markets/1?api_key=secret", http.MethodGet, nil, http.StatusUnauthorized},
		{"query key on upgrade", "/ws?api_key=secret", http.MethodGet, map[string]string{"Upgrade": "websocket"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func TestRateLimit(t *testing.T) {
	t.Run("over limit", func(t *testing.T) {
		l := &fakeLimiter{allow: false}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/markets/1", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
		RateLimit(l, 10, time.Minute, discard())(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, []string{"api:10.0.0.7"}, l.keys)
	})

	t.Run("limiter failure lets request through", func(t *testing.T) {
		l := &fakeLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		RateLimit(l, 10, time.Minute, discard())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		l := &fakeLimiter{}
		rec := httptest.NewRecorder()
		RateLimit(l, 0, time.Minute, discard())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, l.keys)
	})
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/markets/1", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/api/markets/1", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := Logging(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}
