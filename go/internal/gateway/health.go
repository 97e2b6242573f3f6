package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger is a dependency the gateway needs to be healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the outcome of one health check.
type HealthStatus struct {
	Healthy        bool            `json:"healthy"`
	Dependencies   map[string]bool `json:"dependencies"`
	Connections    int             `json:"connections"`
	ActiveSessions int             `json:"active_sessions"`
	Errors         []string        `json:"errors"`
}

// HealthChecker pings the gateway's dependencies.
type HealthChecker struct {
	connections *ConnectionManager
	deps        map[string]Pinger
	timeout     time.Duration
}

// NewHealthChecker creates a checker over named dependencies.
func NewHealthChecker(cm *ConnectionManager, deps map[string]Pinger) *HealthChecker {
	return &HealthChecker{
		connections: cm,
		deps:        deps,
		timeout:     5 * time.Second,
	}
}

// Check pings every dependency; any failure marks the gateway unhealthy.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	stats := h.connections.GetConnectionStats()
	status := HealthStatus{
		Healthy:        true,
		Dependencies:   make(map[string]bool, len(h.deps)),
		Connections:    stats.TotalConnections,
		ActiveSessions: stats.ActiveSessions,
		Errors:         []string{},
	}

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		err := h.deps[name].Ping(ctx)
		status.Dependencies[name] = err == nil
		if err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}
	return status
}

// ServeHTTP reports the health status, with 503 when unhealthy.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		log.Warn().Strs("errors", status.Errors).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}
