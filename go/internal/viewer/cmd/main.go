package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/backend"
	"github.com/mcdev12/watchsync/go/internal/config"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/player/sim"
	"github.com/mcdev12/watchsync/go/internal/reconciler"
	"github.com/mcdev12/watchsync/go/internal/session"
	"github.com/mcdev12/watchsync/go/internal/viewer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	sessionID := flag.String("session", "", "watch session to join")
	participantID := flag.String("participant", "", "participant ID (random when empty)")
	media := flag.String("media", "", "media reference to select after joining")
	offset := flag.Float64("offset", 0, "start offset in seconds for -media")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if *sessionID == "" {
		log.Fatal().Msg("-session is required")
	}
	if *participantID == "" {
		*participantID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	collector := &metrics.NoOpMetricsCollector{}

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

	sess := session.NewSession(*sessionID, *participantID, cfg.Session, session.Deps{
		Bus:     bus,
		Store:   sessionStore,
		Clock:   clock,
		Metrics: collector,
	})
	if err := sess.Open(ctx); err != nil {
		log.Fatal().Err(err).Str("session_id", *sessionID).Msg("failed to open session")
	}

	p := sim.New(clock, cfg.Player)
	rec := reconciler.New(*participantID, cfg.Reconciler, reconciler.Deps{
		Authority: sess.Replica(),
		Proposer:  sess,
		Player:    p,
		Clock:     clock,
		Metrics:   collector,
		Presenter: viewer.LogPresenter(*participantID),
	})
	p.Start()

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	if *media != "" {
		if err := rec.RequestSelectMedia(ctx, *media, *offset); err != nil {
			log.Error().Err(err).Str("media_ref", *media).Msg("failed to select media")
		}
	}

	go viewer.ReadCommands(ctx, os.Stdin, rec)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("reconciler failed")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		log.Error().Err(err).Msg("failed to leave session")
	}
	log.Info().Str("participant_id", *participantID).Msg("viewer stopped")
}
