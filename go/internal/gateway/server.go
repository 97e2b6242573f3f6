package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ServerConfig configures the gateway HTTP server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig returns default HTTP server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8081",
		AllowedOrigins: []string{"*"},
		ReadTimeout:    10 * time.Second,
		IdleTimeout:    120 * time.Second,
	}
}

// NewHandler builds the gateway mux wrapped with CORS and h2c.
func NewHandler(s *Service, cfg ServerConfig, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	s.RegisterRoutes(mux)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// NewServer creates the gateway HTTP server. WebSocket connections manage
// their own deadlines, so no write timeout is set.
func NewServer(s *Service, cfg ServerConfig, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:        cfg.Addr,
		Handler:     NewHandler(s, cfg, gatherer),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
}
