// Package backend opens the bus and store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/broadcast"
	"github.com/mcdev12/watchsync/go/internal/config"
	"github.com/mcdev12/watchsync/go/internal/dbconfig"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/store"
	"github.com/rs/zerolog/log"
)

// OpenBus returns the configured bus wrapped with publish metrics.
func OpenBus(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m metrics.MetricsCollector) (broadcast.Bus, error) {
	var bus broadcast.Bus
	switch cfg.Bus.Backend {
	case config.BusJetStream:
		js, err := broadcast.NewJetStreamBus(ctx, cfg.Bus.NATS, clock)
		if err != nil {
			return nil, fmt.Errorf("open JetStream bus: %w", err)
		}
		log.Info().
			Str("url", cfg.Bus.NATS.URL).
			Str("stream", cfg.Bus.NATS.StreamName).
			Msg("using JetStream bus")
		bus = js
	default:
		log.Warn().Msg("using in-memory bus; sessions are not shared across processes")
		bus = broadcast.NewMemoryBus(clock)
	}
	return broadcast.NewMetricBus(bus, m), nil
}

// OpenStore returns the configured session store and a function releasing
// its resources. Postgres stores get their schema created and old sessions
// pruned.
func OpenStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (store.SessionStore, func(), error) {
	if cfg.Store.Backend != config.StorePostgres {
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := dbconfig.Connect(ctx, cfg.Store.Database)
	if err != nil {
		return nil, nil, err
	}

	pg := store.NewPostgresStore(pool, clock)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	if cfg.Store.Retention > 0 {
		n, err := pg.Prune(ctx, cfg.Store.Retention)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune saved sessions")
		} else if n > 0 {
			log.Info().Int64("pruned", n).Dur("retention", cfg.Store.Retention).Msg("pruned saved sessions")
		}
	}
	return pg, pool.Close, nil
}
