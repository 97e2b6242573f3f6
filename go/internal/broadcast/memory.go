package broadcast

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/rs/zerolog/log"
)

// MemoryBus is an in-process Bus. A single mutex sequences publishes, so the
// log order is total; timestamps come from the injected clock.
type MemoryBus struct {
	clock clockwork.Clock

	mu     sync.Mutex
	logs   map[string]*memoryLog
	closed bool
}

type memoryLog struct {
	entries []Envelope
	seen    map[string]struct{}
	subs    map[*memorySub]struct{}
}

type memorySub struct {
	bus       *MemoryBus
	sessionID string
	wake      chan struct{}
	cancel    context.CancelFunc
	once      sync.Once
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(clock clockwork.Clock) *MemoryBus {
	return &MemoryBus{
		clock: clock,
		logs:  make(map[string]*memoryLog),
	}
}

func (b *MemoryBus) logFor(sessionID string) *memoryLog {
	l, ok := b.logs[sessionID]
	if !ok {
		l = &memoryLog{
			seen: make(map[string]struct{}),
			subs: make(map[*memorySub]struct{}),
		}
		b.logs[sessionID] = l
	}
	return l
}

// Publish appends op to the session log. Ops with an already seen ID are
// dropped, matching JetStream's message de-duplication.
func (b *MemoryBus) Publish(ctx context.Context, sessionID string, op playback.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	now := b.clock.Now()
	data, err := encodeOp(sessionID, op, now)
	if err != nil {
		return err
	}
	_, decoded, err := decodeOp(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	l := b.logFor(sessionID)
	if _, dup := l.seen[op.ID]; dup {
		log.Debug().Str("session_id", sessionID).Str("op_id", op.ID).Msg("duplicate op dropped")
		return nil
	}
	l.seen[op.ID] = struct{}{}
	l.entries = append(l.entries, Envelope{
		Seq:       uint64(len(l.entries) + 1),
		SessionID: sessionID,
		At:        now,
		Op:        decoded,
	})

	for sub := range l.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe replays the session log from the start and then follows it.
func (b *MemoryBus) Subscribe(ctx context.Context, sessionID string, handler Handler) (Subscription, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		bus:       b,
		sessionID: sessionID,
		wake:      make(chan struct{}, 1),
		cancel:    cancel,
	}
	b.logFor(sessionID).subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(subCtx, handler)
	return sub, nil
}

// Len returns the number of entries in a session log.
func (b *MemoryBus) Len(_ context.Context, sessionID string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.logs[sessionID]; ok {
		return uint64(len(l.entries)), nil
	}
	return 0, nil
}

// Ping fails once the bus is closed.
func (b *MemoryBus) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	var subs []*memorySub
	for _, l := range b.logs {
		for sub := range l.subs {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	return nil
}

func (s *memorySub) next(cursor int) (Envelope, bool) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	l := s.bus.logs[s.sessionID]
	if l == nil || cursor >= len(l.entries) {
		return Envelope{}, false
	}
	env := l.entries[cursor]
	env.Pending = uint64(len(l.entries) - cursor - 1)
	return env, true
}

func (s *memorySub) run(ctx context.Context, handler Handler) {
	cursor := 0
	for {
		if ctx.Err() != nil {
			s.Stop()
			return
		}
		if env, ok := s.next(cursor); ok {
			cursor++
			if err := handler(ctx, env); err != nil {
				log.Error().
					Err(err).
					Str("session_id", s.sessionID).
					Uint64("seq", env.Seq).
					Msg("failed to handle envelope")
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.wake:
		}
	}
}

// Stop ends the subscription. Safe to call from inside the handler.
func (s *memorySub) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.bus.mu.Lock()
		if l, ok := s.bus.logs[s.sessionID]; ok {
			delete(l.subs, s)
		}
		s.bus.mu.Unlock()
	})
}
