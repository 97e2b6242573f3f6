package gateway

import (
	"context"
	"net/http"

	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Service is the watch gateway: it serves WebSocket rooms backed by observer
// sessions and the REST state endpoints.
type Service struct {
	connectionManager *ConnectionManager
	hub               *Hub
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	health            *HealthChecker
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig `yaml:"connection"`
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service
func NewService(config Config, open SessionOpener, m metrics.MetricsCollector) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, m)
	hub := NewHub(connectionManager, open)

	return &Service{
		connectionManager: connectionManager,
		hub:               hub,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(hub),
		health:            NewHealthChecker(connectionManager, nil),
	}
}

// SetHealthChecks replaces the dependencies pinged by /health.
func (s *Service) SetHealthChecks(deps map[string]Pinger) {
	s.health = NewHealthChecker(s.connectionManager, deps)
}

// Start runs the connection manager until ctx is cancelled, then closes all
// room sessions.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting watch gateway service")
	s.connectionManager.Start(ctx)
	s.Stop()
}

// Stop closes every room session
func (s *Service) Stop() {
	log.Info().Msg("stopping watch gateway service")
	s.hub.Close()
}

// RegisterRoutes registers all gateway routes with the HTTP mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle("GET /health", s.health)
}

// GetStats returns gateway statistics
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
