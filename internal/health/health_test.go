package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadinessReflectsChecks(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register("redis", func(ctx context.Context) error { return nil })

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)

	m.Register("postgres", func(ctx context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestLivenessAlwaysOK(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register("broken", func(ctx context.Context) error { return errors.New("down") })

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
