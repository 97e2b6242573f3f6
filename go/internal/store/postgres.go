package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/rs/zerolog/log"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS watch_sessions (
    session_id   TEXT PRIMARY KEY,
    media_ref    TEXT NOT NULL,
    start_offset DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists session media selections in the watch_sessions table.
type PostgresStore struct {
	db    DBTX
	clock clockwork.Clock
}

func NewPostgresStore(db DBTX, clock clockwork.Clock) *PostgresStore {
	return &PostgresStore{db: db, clock: clock}
}

// EnsureSchema creates the watch_sessions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create watch_sessions: %w", err)
	}
	return nil
}

// Save upserts the selection. Every replica of a session saves the same
// value, so repeated writes are harmless.
func (s *PostgresStore) Save(ctx context.Context, sessionID string, p playback.Persisted) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO watch_sessions (session_id, media_ref, start_offset, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET media_ref = EXCLUDED.media_ref,
		    start_offset = EXCLUDED.start_offset,
		    updated_at = EXCLUDED.updated_at`,
		sessionID, p.MediaRef, p.StartOffset, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	log.Debug().Str("session_id", sessionID).Str("media_ref", p.MediaRef).Msg("saved session selection")
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (playback.Persisted, error) {
	var p playback.Persisted
	err := s.db.QueryRow(ctx,
		`SELECT media_ref, start_offset FROM watch_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&p.MediaRef, &p.StartOffset)
	if errors.Is(err, pgx.ErrNoRows) {
		return playback.Persisted{}, ErrNotFound
	}
	if err != nil {
		return playback.Persisted{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return p, nil
}

// Prune deletes selections not written within maxAge and returns the number
// of rows removed.
func (s *PostgresStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM watch_sessions WHERE updated_at < $1`, s.clock.Now().Add(-maxAge).UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping runs a trivial query against the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
