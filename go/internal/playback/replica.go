package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Listener receives change notifications in apply order together with the
// state they were produced by.
type Listener func(ev Event, state State)

// PersistFunc durably records a session's restoration data.
type PersistFunc func(p Persisted)

// Replica is one participant's copy of the session state. Apply must be
// called from a single goroutine in delivery order; reads are safe from any
// goroutine.
type Replica struct {
	sessionID string
	clock     clockwork.Clock

	mu    sync.RWMutex
	state State

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	persist PersistFunc
}

// NewReplica creates an empty replica for a session.
func NewReplica(sessionID string, clock clockwork.Clock) *Replica {
	return &Replica{
		sessionID: sessionID,
		clock:     clock,
		state:     NewState(clock.Now()),
		listeners: make(map[int]Listener),
	}
}

// SessionID returns the session this replica belongs to.
func (r *Replica) SessionID() string {
	return r.sessionID
}

// OnPersist installs the persistence hook. It is invoked synchronously from
// Apply and should hand off slow work.
func (r *Replica) OnPersist(fn PersistFunc) {
	r.persist = fn
}

// Subscribe registers a listener and returns a function removing it.
func (r *Replica) Subscribe(fn Listener) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Apply applies an operation delivered at log position seq with logical
// timestamp at. Redelivered entries (seq already applied) are ignored.
func (r *Replica) Apply(seq uint64, at time.Time, op Op) Result {
	r.mu.Lock()
	if seq != 0 && seq <= r.state.Seq {
		st := r.state.Clone()
		r.mu.Unlock()
		log.Debug().
			Str("session_id", r.sessionID).
			Uint64("seq", seq).
			Uint64("applied_seq", st.Seq).
			Msg("skipping already applied op")
		return Result{State: st}
	}
	res := Apply(r.state, op, seq, at)
	r.state = res.State
	st := r.state.Clone()
	r.mu.Unlock()

	if res.Err != nil {
		log.Warn().
			Err(res.Err).
			Str("session_id", r.sessionID).
			Str("op_id", op.ID).
			Uint64("seq", seq).
			Msg("op had no effect")
		return res
	}

	log.Debug().
		Str("session_id", r.sessionID).
		Str("op", string(op.Kind)).
		Str("origin", op.Origin).
		Uint64("seq", seq).
		Int("events", len(res.Events)).
		Msg("applied op")

	if res.Persist != nil && r.persist != nil {
		r.persist(*res.Persist)
	}

	r.listenersMu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.listenersMu.RUnlock()

	for _, ev := range res.Events {
		for _, l := range listeners {
			l(ev, st)
		}
	}
	return res
}

// State returns a copy of the current state.
func (r *Replica) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Position returns the true elapsed position now.
func (r *Replica) Position() float64 {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.TrueElapsed(now)
}

// Snapshot returns the read model as of now.
func (r *Replica) Snapshot() Snapshot {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.SnapshotAt(now)
}
