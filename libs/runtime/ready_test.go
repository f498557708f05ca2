package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadyz(t *testing.T) {
	ok := NewBaseMuxWithReady(ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }})
	rw := httptest.NewRecorder()
	ok.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rw.Code)

	failing := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial refused") }},
	)
	rw = httptest.NewRecorder()
	failing.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.Equal(t, "kafka: dial refused", rw.Body.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestReadyzOptionalCheck(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "redis", Optional: true, Check: func(context.Context) error { return errors.New("timeout") }},
	)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "degraded: redis: timeout")
}
