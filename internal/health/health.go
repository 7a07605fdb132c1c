// Package health exposes liveness and readiness endpoints backed by named
// dependency checks (Redis, Postgres, Temporal).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Manager runs registered checks on demand.
type Manager struct {
	mu      sync.RWMutex
	checks  map[string]Check
	logger  *zap.Logger
	timeout time.Duration
}

// NewManager creates a health manager with a per-check timeout.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checks:  make(map[string]Check),
		logger:  logger,
		timeout: 3 * time.Second,
	}
}

// Register adds or replaces a named check.
func (m *Manager) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// componentStatus is one check's outcome in the readiness payload.
type componentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Run executes every check and reports overall readiness.
func (m *Manager) Run(ctx context.Context) (bool, map[string]componentStatus) {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	healthy := true
	results := make(map[string]componentStatus, len(checks))
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			healthy = false
			results[name] = componentStatus{Error: err.Error()}
			m.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
			continue
		}
		results[name] = componentStatus{Healthy: true}
	}
	return healthy, results
}

// RegisterRoutes mounts the health endpoints on a mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleLiveness)
	mux.HandleFunc("/health/ready", m.handleReadiness)
}

// handleLiveness answers as long as the process is serving.
func (m *Manager) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadiness runs dependency checks and returns 503 on any failure.
func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	healthy, results := m.Run(r.Context())

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     overall,
		"components": results,
	})
}
