package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/broadcast"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/mcdev12/watchsync/go/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCatchUpTimeout is returned by Open when the replica did not reach the
	// head of the log in time.
	ErrCatchUpTimeout = errors.New("timed out catching up with session log")
	// ErrNotOpen is returned when proposing on a session that was never opened
	// or is already closed.
	ErrNotOpen = errors.New("session not open")
)

// Config holds session runtime tunables.
type Config struct {
	CatchUpTimeout time.Duration `yaml:"catch_up_timeout"`
	SaveTimeout    time.Duration `yaml:"save_timeout"`
}

// DefaultConfig returns default session configuration.
func DefaultConfig() Config {
	return Config{
		CatchUpTimeout: 10 * time.Second,
		SaveTimeout:    5 * time.Second,
	}
}

// Deps are the collaborators a session runs against. Store and Metrics are
// optional.
type Deps struct {
	Bus     broadcast.Bus
	Store   store.SessionStore
	Clock   clockwork.Clock
	Metrics metrics.MetricsCollector
}

// Session is one participant's live view of a watch session: it feeds the
// ordered log into a replica and proposes ops back onto the log.
type Session struct {
	id            string
	participantID string
	observer      bool
	cfg           Config
	deps          Deps
	replica       *playback.Replica

	mu     sync.Mutex
	sub    broadcast.Subscription
	cancel context.CancelFunc
	open   bool

	target   atomic.Uint64
	caughtUp chan struct{}
	once     sync.Once

	saves sync.WaitGroup
}

// NewSession creates a participating session. Open announces the participant
// with a Join and Close removes it with a Leave.
func NewSession(sessionID, participantID string, cfg Config, deps Deps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = &metrics.NoOpMetricsCollector{}
	}
	s := &Session{
		id:            sessionID,
		participantID: participantID,
		cfg:           cfg,
		deps:          deps,
		replica:       playback.NewReplica(sessionID, deps.Clock),
		caughtUp:      make(chan struct{}),
	}
	s.replica.OnPersist(s.save)
	return s
}

// NewObserver creates a session that follows the log without joining it.
func NewObserver(sessionID string, cfg Config, deps Deps) *Session {
	s := NewSession(sessionID, "", cfg, deps)
	s.observer = true
	return s
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) ParticipantID() string       { return s.participantID }
func (s *Session) Replica() *playback.Replica  { return s.replica }
func (s *Session) Snapshot() playback.Snapshot { return s.replica.Snapshot() }

// Subscribe registers a replica listener.
func (s *Session) Subscribe(fn playback.Listener) func() {
	return s.replica.Subscribe(fn)
}

// CaughtUp reports whether the replica has applied the log as it stood when
// the session was opened.
func (s *Session) CaughtUp() bool {
	select {
	case <-s.caughtUp:
		return true
	default:
		return false
	}
}

// Open subscribes to the session log and blocks until the replica has caught
// up. A session with an empty log is restored from the store. Participating
// sessions then publish their Join.
func (s *Session) Open(ctx context.Context) error {
	if err := broadcast.ValidateSessionID(s.id); err != nil {
		return err
	}

	head, err := s.deps.Bus.Len(ctx, s.id)
	if err != nil {
		return fmt.Errorf("read log length: %w", err)
	}
	s.target.Store(head)
	if head == 0 {
		s.markCaughtUp()
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.deps.Bus.Subscribe(subCtx, s.id, s.handle)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to session log: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.cancel = cancel
	s.open = true
	s.mu.Unlock()

	timeout := s.deps.Clock.After(s.cfg.CatchUpTimeout)
	select {
	case <-s.caughtUp:
	case <-timeout:
		s.stop()
		return fmt.Errorf("%w: %d entries", ErrCatchUpTimeout, head)
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}

	log.Info().
		Str("session_id", s.id).
		Str("participant_id", s.participantID).
		Uint64("replayed", head).
		Msg("session caught up")

	if head == 0 {
		if err := s.restore(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("failed to restore session")
		}
	}

	if !s.observer {
		if err := s.Propose(ctx, playback.Join(s.participantID)); err != nil {
			return fmt.Errorf("join session: %w", err)
		}
	}
	return nil
}

// Propose stamps op with this participant and publishes it. The local
// replica changes only when the op comes back through the log.
func (s *Session) Propose(ctx context.Context, op playback.Op) error {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if s.participantID != "" {
		op = op.WithOrigin(s.participantID)
	}
	if err := s.deps.Bus.Publish(ctx, s.id, op); err != nil {
		return fmt.Errorf("publish %s: %w", op.Kind, err)
	}
	return nil
}

// Close publishes the participant's Leave, stops following the log and waits
// for pending saves.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if !s.observer {
		err = s.Propose(ctx, playback.Leave(s.participantID))
	}
	s.stop()
	s.saves.Wait()
	if err != nil && !errors.Is(err, ErrNotOpen) {
		return fmt.Errorf("leave session: %w", err)
	}
	return nil
}

func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Stop()
		s.sub = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.open = false
}

func (s *Session) handle(_ context.Context, env broadcast.Envelope) error {
	res := s.replica.Apply(env.Seq, env.At, env.Op)
	s.deps.Metrics.RecordOpApplied(string(env.Op.Kind))
	if env.Pending == 0 || res.State.Seq >= s.target.Load() {
		s.markCaughtUp()
	}
	return nil
}

func (s *Session) markCaughtUp() {
	s.once.Do(func() { close(s.caughtUp) })
}

func (s *Session) restore(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	p, err := s.deps.Store.Load(ctx, s.id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", s.id).
		Str("media_ref", p.MediaRef).
		Float64("start_offset", p.StartOffset).
		Msg("restoring session from store")
	return s.Propose(ctx, playback.ResumeMedia(p.MediaRef, p.StartOffset))
}

// save runs off the apply path; failures never reach the replica.
func (s *Session) save(p playback.Persisted) {
	if s.deps.Store == nil {
		return
	}
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
		defer cancel()
		if err := s.deps.Store.Save(ctx, s.id, p); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("failed to persist session")
		}
	}()
}
