package reconciler

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/player"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotReady is returned by gestures that need the local player before it
	// signalled Ready.
	ErrNotReady = errors.New("player not ready")
	// ErrNoMedia is returned by gestures that need a selected media item.
	ErrNoMedia = errors.New("no media selected")
)

// Authority is the replicated session state the reconciler follows.
type Authority interface {
	State() playback.State
	Subscribe(fn playback.Listener) func()
}

// Proposer publishes ops to the session log.
type Proposer interface {
	Propose(ctx context.Context, op playback.Op) error
}

// Deps are the collaborators of a Reconciler. Metrics and Presenter are
// optional.
type Deps struct {
	Authority Authority
	Proposer  Proposer
	Player    player.Player
	Clock     clockwork.Clock
	Metrics   metrics.MetricsCollector
	Presenter Presenter
}

type tick struct{}

type notification struct {
	ev playback.Event
}

type gesture struct {
	fn    func() error
	reply chan error
}

// Reconciler drives one participant's local player towards the authoritative
// session state. All fields below the channels are owned by the loop.
type Reconciler struct {
	participantID string
	cfg           Config
	authority     Authority
	proposer      Proposer
	player        player.Player
	clock         clockwork.Clock
	metrics       metrics.MetricsCollector
	presenter     Presenter

	notifications chan notification
	outcomes      chan outcome
	gestures      chan gesture
	disp          dispatcher
	inbox         []outcome

	gen      uint64 // bumped whenever the loaded media changes
	ready    bool
	deferred []*command
	status   player.Status
	mediaRef string

	playedOnce        bool
	lastPlayAt        time.Time
	playPauseInFlight int
	readingPosition   bool
	seeking           bool
	seekingSince      time.Time
	lastCorrectionAt  time.Time
	needDuration      bool
	retryPlayAt       time.Time
	playerErr         int

	rendering    bool
	lastRender   time.Time
	lastTimeline Timeline
}

// New creates a reconciler for one participant.
func New(participantID string, cfg Config, deps Deps) *Reconciler {
	if deps.Metrics == nil {
		deps.Metrics = &metrics.NoOpMetricsCollector{}
	}
	if deps.Presenter == nil {
		deps.Presenter = noopPresenter{}
	}
	return &Reconciler{
		participantID: participantID,
		cfg:           cfg,
		authority:     deps.Authority,
		proposer:      deps.Proposer,
		player:        deps.Player,
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		presenter:     deps.Presenter,
		notifications: make(chan notification, 64),
		outcomes:      make(chan outcome, 64),
		gestures:      make(chan gesture),
		status:        player.StatusUnstarted,
	}
}

// Run drives the player until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.disp = &asyncDispatcher{ctx: ctx, timeout: r.cfg.CommandTimeout, out: r.outcomes}

	unsubscribe := r.authority.Subscribe(func(ev playback.Event, _ playback.State) {
		select {
		case r.notifications <- notification{ev: ev}:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	ticker := r.clock.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().Str("participant_id", r.participantID).Msg("reconciler started")

	signals := r.player.Signals()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("participant_id", r.participantID).Msg("reconciler stopped")
			return ctx.Err()
		case <-ticker.Chan():
			r.step(tick{})
		case n := <-r.notifications:
			r.step(n)
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			r.step(sig)
		case o := <-r.outcomes:
			r.step(o)
		case g := <-r.gestures:
			r.step(g)
		}
	}
}

// step handles one loop event and then any outcomes that completed inline.
func (r *Reconciler) step(ev any) {
	r.handle(ev)
	for len(r.inbox) > 0 {
		o := r.inbox[0]
		r.inbox = r.inbox[1:]
		r.handle(o)
	}
}

func (r *Reconciler) handle(ev any) {
	switch e := ev.(type) {
	case tick:
		r.onTick()
	case notification:
		r.onNotification(e.ev)
	case player.Signal:
		r.onSignal(e)
	case outcome:
		r.onOutcome(e)
	case gesture:
		e.reply <- e.fn()
	}
}

func (r *Reconciler) submit(ctx context.Context, fn func() error) error {
	g := gesture{fn: fn, reply: make(chan error, 1)}
	select {
	case r.gestures <- g:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-g.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// issue dispatches a command, deferring player commands until Ready. Scoped
// commands are tied to the current media generation.
func (r *Reconciler) issue(kind commandKind, scoped bool, run func(ctx context.Context) (any, error), done func(any, error)) {
	c := &command{kind: kind, run: run, done: done}
	if scoped {
		c.gen = r.gen
	}
	if !r.ready && kind != cmdPropose {
		r.deferred = append(r.deferred, c)
		return
	}
	r.disp.dispatch(c)
}

func (r *Reconciler) onOutcome(o outcome) {
	if o.cmd.gen != 0 && o.cmd.gen != r.gen {
		log.Debug().
			Str("participant_id", r.participantID).
			Str("command", string(o.cmd.kind)).
			Msg("discarding stale command outcome")
		return
	}
	if o.err != nil {
		log.Warn().
			Err(o.err).
			Str("participant_id", r.participantID).
			Str("command", string(o.cmd.kind)).
			Msg("command failed")
		r.metrics.RecordCommandFailure(string(o.cmd.kind))
	}
	if o.cmd.done != nil {
		o.cmd.done(o.value, o.err)
	}
}

func (r *Reconciler) onReady() {
	if r.ready {
		return
	}
	r.ready = true
	r.status = r.player.Status()

	deferred := r.deferred
	r.deferred = nil
	for _, c := range deferred {
		if c.gen != 0 {
			c.gen = r.gen
		}
		r.disp.dispatch(c)
	}

	log.Info().
		Str("participant_id", r.participantID).
		Int("deferred", len(deferred)).
		Msg("player ready")

	st := r.authority.State()
	if !st.HasMedia() {
		return
	}
	r.resetMedia(st.MediaRef)
	r.loadCurrent(st)
}

func (r *Reconciler) onNotification(ev playback.Event) {
	st := r.authority.State()

	switch ev.Type {
	case playback.EventMediaSelected:
		r.resetMedia(st.MediaRef)
		if r.ready {
			r.loadCurrent(st)
		}
		return
	case playback.EventPausedChanged, playback.EventSeeked:
		if !r.ready || !st.HasMedia() || st.Ended || r.playerErr != 0 {
			return
		}
		r.retryPlayAt = time.Time{}
		r.seekTo(st.TrueElapsed(r.clock.Now()))
		if st.Paused {
			r.pause()
		} else {
			r.play()
		}
		return
	}

	if r.ready {
		r.converge(st, r.clock.Now())
	}
}

func (r *Reconciler) onSignal(sig player.Signal) {
	switch sig.Kind {
	case player.SignalReady:
		r.onReady()
	case player.SignalError:
		r.onPlayerError(sig.Code)
	case player.SignalStateChange:
		r.status = sig.Status
		switch sig.Status {
		case player.StatusPlaying:
			r.onPlaying()
		case player.StatusPaused:
			r.seeking = false
			if r.ready {
				r.checkDrift()
			}
		case player.StatusCued:
			r.needDuration = true
		case player.StatusEnded:
			r.onEnded()
		}
	}
}

func (r *Reconciler) onPlaying() {
	r.seeking = false
	now := r.clock.Now()

	if !r.playedOnce {
		r.playedOnce = true
		r.lastPlayAt = now
		// loading took time; land on where the session is now
		st := r.authority.State()
		if st.HasMedia() && !st.Ended && !st.Paused {
			r.seekTo(st.TrueElapsed(now))
		}
	}
	if r.needDuration {
		r.needDuration = false
		r.readDuration()
	}
}

func (r *Reconciler) onEnded() {
	now := r.clock.Now()
	if !r.lastPlayAt.IsZero() && now.Sub(r.lastPlayAt) < r.cfg.SpuriousEndWindow {
		log.Warn().
			Str("participant_id", r.participantID).
			Dur("since_play", now.Sub(r.lastPlayAt)).
			Msg("ignoring spurious end of media")
		r.metrics.RecordSpuriousEnd()
		r.propose(playback.Seek(0))
		r.seekTo(0)
		r.retryPlayAt = now.Add(r.cfg.SpuriousRetryDelay)
		return
	}

	st := r.authority.State()
	if !st.HasMedia() || st.Ended {
		return
	}
	r.propose(playback.SetEnded(true))
}

func (r *Reconciler) onPlayerError(code int) {
	r.playerErr = code
	log.Error().
		Str("participant_id", r.participantID).
		Str("media_ref", r.mediaRef).
		Int("code", code).
		Str("description", player.ErrorDescription(code)).
		Msg("player error")
	r.metrics.RecordPlayerError(code)
	r.lastRender = time.Time{}
}

func (r *Reconciler) onTick() {
	if !r.ready {
		return
	}
	now := r.clock.Now()
	st := r.authority.State()

	r.maybeRender(now)

	if r.seeking && now.Sub(r.seekingSince) > r.cfg.CommandTimeout {
		r.seeking = false
	}
	if !r.retryPlayAt.IsZero() && !now.Before(r.retryPlayAt) {
		r.retryPlayAt = time.Time{}
		if st.HasMedia() && !st.Paused && !st.Ended {
			r.play()
		}
	}
	r.converge(st, now)
}

// converge fixes play/pause mismatches and drift against st.
func (r *Reconciler) converge(st playback.State, now time.Time) {
	if !st.HasMedia() || st.Ended || r.playerErr != 0 || !r.retryPlayAt.IsZero() {
		return
	}

	localPaused := r.status == player.StatusPaused || (r.playedOnce && r.status == player.StatusCued)
	if r.playedOnce && r.playPauseInFlight == 0 && st.Paused != localPaused {
		log.Debug().
			Str("participant_id", r.participantID).
			Bool("want_paused", st.Paused).
			Str("status", r.status.String()).
			Msg("play state mismatch")
		if st.Paused {
			r.pause()
		} else {
			r.seekTo(st.TrueElapsed(now))
			r.play()
		}
		return
	}

	if r.status == player.StatusPlaying && !st.Paused {
		r.checkDrift()
	}
}

// checkDrift reads the local position and seeks when it strays further than
// the tolerance from the authoritative position.
func (r *Reconciler) checkDrift() {
	if r.readingPosition || r.seeking {
		return
	}
	r.readingPosition = true
	r.issue(cmdPosition, true, func(ctx context.Context) (any, error) {
		return r.player.CurrentTime(ctx)
	}, func(v any, err error) {
		r.readingPosition = false
		if err != nil {
			return
		}
		st := r.authority.State()
		if !st.HasMedia() || st.Ended {
			return
		}
		now := r.clock.Now()
		expected := st.TrueElapsed(now)
		drift := v.(float64) - expected
		if math.Abs(drift) <= r.cfg.DriftTolerance.Seconds() {
			return
		}
		if r.seeking || now.Sub(r.lastCorrectionAt) < r.cfg.CorrectionWindow {
			return
		}
		r.lastCorrectionAt = now
		r.metrics.RecordCorrection(drift)
		log.Debug().
			Str("participant_id", r.participantID).
			Float64("local", v.(float64)).
			Float64("expected", expected).
			Msg("correcting drift")
		r.seekTo(expected)
	})
}

func (r *Reconciler) readDuration() {
	r.issue(cmdDuration, true, func(ctx context.Context) (any, error) {
		return r.player.Duration(ctx)
	}, func(v any, err error) {
		if err != nil {
			return
		}
		d := v.(float64)
		if d <= 0 {
			return
		}
		if known, ok := r.authority.State().DurationKnown(); ok && math.Abs(known-d) < 0.5 {
			return
		}
		r.propose(playback.ReportDuration(d))
	})
}

// resetMedia starts a new generation for ref, dropping everything in flight.
func (r *Reconciler) resetMedia(ref string) {
	r.gen++
	r.mediaRef = ref
	r.playedOnce = false
	r.playPauseInFlight = 0
	r.readingPosition = false
	r.seeking = false
	r.retryPlayAt = time.Time{}
	r.playerErr = 0
}

// loadCurrent cues the authoritative media at the true elapsed position and
// plays or pauses it to match.
func (r *Reconciler) loadCurrent(st playback.State) {
	now := r.clock.Now()
	r.cue(st.MediaRef, st.TrueElapsed(now))
	if st.Ended {
		return
	}
	if st.Paused {
		r.pause()
	} else {
		r.play()
	}
}

func (r *Reconciler) play() {
	r.lastPlayAt = r.clock.Now()
	r.playPauseInFlight++
	r.issue(cmdPlay, true, func(ctx context.Context) (any, error) {
		return nil, r.player.Play(ctx)
	}, r.playPauseDone)
}

func (r *Reconciler) pause() {
	r.playPauseInFlight++
	r.issue(cmdPause, true, func(ctx context.Context) (any, error) {
		return nil, r.player.Pause(ctx)
	}, r.playPauseDone)
}

func (r *Reconciler) playPauseDone(any, error) {
	if r.playPauseInFlight > 0 {
		r.playPauseInFlight--
	}
}

func (r *Reconciler) seekTo(position float64) {
	r.seeking = true
	r.seekingSince = r.clock.Now()
	r.issue(cmdSeek, true, func(ctx context.Context) (any, error) {
		return nil, r.player.SeekTo(ctx, position, true)
	}, func(_ any, err error) {
		if err != nil {
			r.seeking = false
		}
	})
}

func (r *Reconciler) cue(ref string, start float64) {
	r.needDuration = true
	r.issue(cmdCue, true, func(ctx context.Context) (any, error) {
		return nil, r.player.Cue(ctx, ref, start)
	}, nil)
}

// propose publishes ops in order from a single command.
func (r *Reconciler) propose(ops ...playback.Op) {
	r.issue(cmdPropose, false, func(ctx context.Context) (any, error) {
		for _, op := range ops {
			if err := r.proposer.Propose(ctx, op); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, nil)
}
