package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/backend"
	"github.com/mcdev12/watchsync/go/internal/config"
	"github.com/mcdev12/watchsync/go/internal/gateway"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusMetrics(registry)

	bus, err := backend.OpenBus(ctx, cfg, clock, collector)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bus")
	}
	defer bus.Close()

	sessionStore, releaseStore, err := backend.OpenStore(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer releaseStore()

	deps := session.Deps{Bus: bus, Store: sessionStore, Clock: clock, Metrics: collector}
	gatewayService := gateway.NewService(cfg.Gateway, func(sessionID string) *session.Session {
		return session.NewObserver(sessionID, cfg.Session, deps)
	}, collector)
	gatewayService.SetHealthChecks(map[string]gateway.Pinger{
		"bus":   bus,
		"store": sessionStore,
	})

	server := gateway.NewServer(gatewayService, cfg.Server, registry)

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("bus", cfg.Bus.Backend).
		Str("store", cfg.Store.Backend).
		Msg("starting watch gateway")

	serviceDone := make(chan struct{})
	go func() {
		gatewayService.Start(ctx)
		close(serviceDone)
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the connection manager and close room sessions
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for gateway service")
	}

	log.Info().Msg("watch gateway shutdown complete")
}
