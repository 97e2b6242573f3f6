package store

import (
	"context"
	"errors"

	"github.com/mcdev12/watchsync/go/internal/playback"
)

// ErrNotFound is returned by Load when nothing was persisted for a session.
var ErrNotFound = errors.New("session not found")

// SessionStore keeps the last explicitly selected media of each session so a
// session whose log is empty can be restored.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, p playback.Persisted) error
	Load(ctx context.Context, sessionID string) (playback.Persisted, error)
	Ping(ctx context.Context) error
}
