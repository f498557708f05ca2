package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/apptremind/libs/httpx"
	"github.com/md-rashed-zaman/apptremind/libs/runtime"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLimits(t *testing.T) {
	lim, err := loadLimits()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), lim.MaxBodyBytes)
	assert.Equal(t, 15*time.Second, lim.HandlerTimeout)

	t.Setenv("HTTP_MAX_BODY_BYTES", "2048")
	t.Setenv("HTTP_HANDLER_TIMEOUT", "3s")
	lim, err = loadLimits()
	require.NoError(t, err)
	assert.Equal(t, int64(2048), lim.MaxBodyBytes)
	assert.Equal(t, 3*time.Second, lim.HandlerTimeout)

	t.Setenv("HTTP_HANDLER_TIMEOUT", "soon")
	_, err = loadLimits()
	require.Error(t, err)
}

func TestHTTPHandlerEnforcesLimits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})
	limiter := httpx.NewRateLimiter(100, time.Minute).Middleware()
	h := newHTTPHandler(mux, logger, limiter, nil, serverLimits{MaxBodyBytes: 16, HandlerTimeout: 50 * time.Millisecond})

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader(`{"ok":true}`)))
	assert.Equal(t, http.StatusOK, rw.Code)

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rw.Code)

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/slow", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.NotEmpty(t, rw.Header().Get(httpx.RequestIDHeader))
}

func TestRedisReadyCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	readyz := func(failOpen bool) *httptest.ResponseRecorder {
		mux := runtime.NewBaseMuxWithReady(
			runtime.ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
			redisReadyCheck(rdb, failOpen),
		)
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rw
	}

	rw := readyz(false)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "ok", rw.Body.String())

	mr.Close()

	rw = readyz(false)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.Contains(t, rw.Body.String(), "redis:")

	rw = readyz(true)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "degraded: redis:")
}
