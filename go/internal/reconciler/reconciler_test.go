package reconciler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/player"
	"github.com/mcdev12/watchsync/go/internal/playback"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type call struct {
	name  string
	value float64
	ref   string
}

// fakePlayer records commands and answers reads from fixed values.
type fakePlayer struct {
	mu       sync.Mutex
	calls    []call
	position float64
	duration float64
	muted    bool
	status   player.Status
	signals  chan player.Signal
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{duration: 600, signals: make(chan player.Signal, 16)}
}

func (p *fakePlayer) record(c call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return nil
}

func (p *fakePlayer) Play(context.Context) error  { return p.record(call{name: "play"}) }
func (p *fakePlayer) Pause(context.Context) error { return p.record(call{name: "pause"}) }
func (p *fakePlayer) Stop(context.Context) error  { return p.record(call{name: "stop"}) }
func (p *fakePlayer) SeekTo(_ context.Context, pos float64, _ bool) error {
	return p.record(call{name: "seek", value: pos})
}
func (p *fakePlayer) Cue(_ context.Context, ref string, start float64) error {
	return p.record(call{name: "cue", ref: ref, value: start})
}
func (p *fakePlayer) Mute(context.Context) error {
	p.mu.Lock()
	p.muted = true
	p.mu.Unlock()
	return p.record(call{name: "mute"})
}
func (p *fakePlayer) Unmute(context.Context) error {
	p.mu.Lock()
	p.muted = false
	p.mu.Unlock()
	return p.record(call{name: "unmute"})
}
func (p *fakePlayer) IsMuted(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted, nil
}
func (p *fakePlayer) SetVolume(_ context.Context, v int) error {
	return p.record(call{name: "set_volume", value: float64(v)})
}
func (p *fakePlayer) Volume(context.Context) (int, error) { return 100, nil }
func (p *fakePlayer) CurrentTime(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, nil
}
func (p *fakePlayer) Duration(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration, nil
}
func (p *fakePlayer) LoadedFraction(context.Context) (float64, error) { return 0.5, nil }
func (p *fakePlayer) Status() player.Status                           { return p.status }
func (p *fakePlayer) Signals() <-chan player.Signal                   { return p.signals }

func (p *fakePlayer) named(name string) []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []call
	for _, c := range p.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePlayer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

type fakeProposer struct {
	mu  sync.Mutex
	ops []playback.Op
}

func (f *fakeProposer) Propose(_ context.Context, op playback.Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeProposer) kinds() []playback.OpKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []playback.OpKind
	for _, op := range f.ops {
		out = append(out, op.Kind)
	}
	return out
}

// inlineDispatcher runs commands synchronously; outcomes are handled by the
// enclosing step.
type inlineDispatcher struct {
	r *Reconciler
}

func (d inlineDispatcher) dispatch(c *command) {
	v, err := c.run(context.Background())
	d.r.inbox = append(d.r.inbox, outcome{cmd: c, value: v, err: err})
}

type recordingCollector struct {
	metrics.NoOpMetricsCollector
	corrections  int
	spurious     int
	playerErrors []int
}

func (c *recordingCollector) RecordCorrection(float64) { c.corrections++ }
func (c *recordingCollector) RecordSpuriousEnd()       { c.spurious++ }
func (c *recordingCollector) RecordPlayerError(code int) {
	c.playerErrors = append(c.playerErrors, code)
}

type harness struct {
	r         *Reconciler
	clock     *clockwork.FakeClock
	replica   *playback.Replica
	player    *fakePlayer
	proposer  *fakeProposer
	collector *recordingCollector
	timelines []Timeline
	seq       uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClockAt(t0),
		player:    newFakePlayer(),
		proposer:  &fakeProposer{},
		collector: &recordingCollector{},
	}
	h.replica = playback.NewReplica("room-1", h.clock)
	h.r = New("alice", DefaultConfig(), Deps{
		Authority: h.replica,
		Proposer:  h.proposer,
		Player:    h.player,
		Clock:     h.clock,
		Metrics:   h.collector,
		Presenter: PresenterFunc(func(tl Timeline) { h.timelines = append(h.timelines, tl) }),
	})
	h.r.disp = inlineDispatcher{r: h.r}
	return h
}

// apply sequences op into the replica at the current fake time and notifies
// the reconciler of its events.
func (h *harness) apply(op playback.Op) {
	h.seq++
	res := h.replica.Apply(h.seq, h.clock.Now(), op)
	for _, ev := range res.Events {
		h.r.step(notification{ev: ev})
	}
}

func (h *harness) signal(s player.Status) {
	h.player.status = s
	h.r.step(player.Signal{Kind: player.SignalStateChange, Status: s})
}

// playing brings the harness to a ready player that has played once.
func (h *harness) playing(ref string, start float64) {
	h.apply(playback.SelectMedia(ref, start))
	h.r.step(player.Signal{Kind: player.SignalReady})
	h.signal(player.StatusPlaying)
	h.signal(player.StatusPlaying)
}

func (h *harness) gesture(fn func() error) error {
	g := gesture{fn: fn, reply: make(chan error, 1)}
	h.r.step(g)
	return <-g.reply
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDriftBeyondToleranceSeeksExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 50.2)
	h.player.reset()

	h.player.position = 55
	h.r.step(tick{})
	h.r.step(tick{})

	seeks := h.player.named("seek")
	if len(seeks) != 1 {
		t.Fatalf("seeks = %+v, want exactly one", seeks)
	}
	if !approx(seeks[0].value, 50.2) {
		t.Fatalf("seek target = %v, want 50.2", seeks[0].value)
	}
	if h.collector.corrections != 1 {
		t.Fatalf("corrections = %d, want 1", h.collector.corrections)
	}
}

func TestDriftWithinToleranceIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 50.2)
	h.player.reset()

	h.player.position = 50.9
	h.r.step(tick{})

	if seeks := h.player.named("seek"); len(seeks) != 0 {
		t.Fatalf("unexpected seeks: %+v", seeks)
	}
}

func TestCorrectionClearsOnPlayingSignal(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 10)
	h.player.reset()

	h.player.position = 30
	h.r.step(tick{})
	h.clock.Advance(time.Second)
	h.signal(player.StatusPlaying)
	h.player.position = 11
	h.r.step(tick{})

	if seeks := h.player.named("seek"); len(seeks) != 1 {
		t.Fatalf("seeks = %+v, want one correction only", seeks)
	}

	h.player.position = 40
	h.r.step(tick{})
	if seeks := h.player.named("seek"); len(seeks) != 2 {
		t.Fatalf("seeks = %+v, want a second correction", seeks)
	}
}

func TestSpuriousEndSeeksToStartAndRetriesPlay(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.player.reset()
	h.proposer.ops = nil

	h.clock.Advance(400 * time.Millisecond)
	h.signal(player.StatusEnded)

	for _, k := range h.proposer.kinds() {
		if k == playback.OpSetEnded {
			t.Fatal("spurious end must not be proposed as SetEnded")
		}
	}
	kinds := h.proposer.kinds()
	if len(kinds) != 1 || kinds[0] != playback.OpSeek {
		t.Fatalf("proposals = %v, want [Seek]", kinds)
	}
	var p playback.SeekPayload
	_ = h.proposer.ops[0].Decode(&p)
	if p.Position != 0 {
		t.Fatalf("proposed seek to %v, want 0", p.Position)
	}
	if seeks := h.player.named("seek"); len(seeks) != 1 || seeks[0].value != 0 {
		t.Fatalf("local seeks = %+v, want seek to 0", seeks)
	}
	if plays := h.player.named("play"); len(plays) != 0 {
		t.Fatalf("play retried too early: %+v", plays)
	}

	h.clock.Advance(time.Second)
	h.r.step(tick{})

	if plays := h.player.named("play"); len(plays) != 1 {
		t.Fatalf("plays = %+v, want one retry", plays)
	}
	if h.collector.spurious != 1 {
		t.Fatalf("spurious ends = %d, want 1", h.collector.spurious)
	}
}

func TestNaturalEndProposesSetEnded(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.proposer.ops = nil

	h.clock.Advance(5 * time.Second)
	h.signal(player.StatusEnded)

	kinds := h.proposer.kinds()
	if len(kinds) != 1 || kinds[0] != playback.OpSetEnded {
		t.Fatalf("proposals = %v, want [SetEnded]", kinds)
	}
}

func TestReadyCuesAtTrueElapsedPosition(t *testing.T) {
	h := newHarness(t)
	h.apply(playback.SelectMedia("abc123", 0))
	h.clock.Advance(20 * time.Second)

	h.r.step(player.Signal{Kind: player.SignalReady})

	cues := h.player.named("cue")
	if len(cues) != 1 || cues[0].ref != "abc123" || !approx(cues[0].value, 20) {
		t.Fatalf("cues = %+v, want abc123@20", cues)
	}
	if plays := h.player.named("play"); len(plays) != 1 {
		t.Fatalf("plays = %+v, want one", plays)
	}

	// the first Playing signal re-seeks to where the session is by then
	h.clock.Advance(2 * time.Second)
	h.signal(player.StatusPlaying)
	seeks := h.player.named("seek")
	if len(seeks) != 1 || !approx(seeks[0].value, 22) {
		t.Fatalf("seeks = %+v, want 22", seeks)
	}
}

func TestReadyPausesWhenSessionPaused(t *testing.T) {
	h := newHarness(t)
	h.apply(playback.SelectMedia("abc123", 0))
	h.apply(playback.SetPaused(true, 42))

	h.r.step(player.Signal{Kind: player.SignalReady})

	if pauses := h.player.named("pause"); len(pauses) != 1 {
		t.Fatalf("pauses = %+v, want one", pauses)
	}
	if plays := h.player.named("play"); len(plays) != 0 {
		t.Fatalf("unexpected plays: %+v", plays)
	}
	if cues := h.player.named("cue"); len(cues) != 1 || cues[0].value != 42 {
		t.Fatalf("cues = %+v, want position 42", cues)
	}
}

func TestCommandsBeforeReadyAreFlushedOnce(t *testing.T) {
	h := newHarness(t)

	if err := h.gesture(h.r.toggleMute); err != nil {
		t.Fatal(err)
	}
	if err := h.gesture(func() error { return h.r.setVolume(30) }); err != nil {
		t.Fatal(err)
	}
	if len(h.player.calls) != 0 {
		t.Fatalf("commands ran before ready: %+v", h.player.calls)
	}

	h.r.step(player.Signal{Kind: player.SignalReady})
	h.r.step(player.Signal{Kind: player.SignalReady})

	if n := len(h.player.named("mute")); n != 1 {
		t.Fatalf("mute calls = %d, want 1", n)
	}
	vols := h.player.named("set_volume")
	if len(vols) != 1 || vols[0].value != 30 {
		t.Fatalf("set_volume calls = %+v", vols)
	}
}

func TestPlayPauseMismatchIsCorrected(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.player.reset()

	h.seq++
	h.replica.Apply(h.seq, h.clock.Now(), playback.SetPaused(true, 30))
	h.r.step(tick{})

	if pauses := h.player.named("pause"); len(pauses) != 1 {
		t.Fatalf("pauses = %+v, want one", pauses)
	}
}

func TestPausedChangedNotificationSeeksAndPauses(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.player.reset()

	h.apply(playback.SetPaused(true, 12.5))

	seeks := h.player.named("seek")
	if len(seeks) != 1 || seeks[0].value != 12.5 {
		t.Fatalf("seeks = %+v", seeks)
	}
	if len(h.player.named("pause")) != 1 {
		t.Fatal("expected pause")
	}
}

func TestEndedSessionIsNotReconciled(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.apply(playback.SetEnded(true))
	h.player.reset()

	h.player.position = 300
	h.signal(player.StatusPaused)
	h.r.step(tick{})

	if seeks := h.player.named("seek"); len(seeks) != 0 {
		t.Fatalf("unexpected seeks on ended session: %+v", seeks)
	}
}

func TestPlayerErrorLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.proposer.ops = nil

	h.r.step(player.Signal{Kind: player.SignalError, Code: player.ErrorNotEmbeddableAlt})
	h.r.step(tick{})

	if len(h.proposer.ops) != 0 {
		t.Fatalf("player error reached the session: %v", h.proposer.kinds())
	}
	if len(h.collector.playerErrors) != 1 || h.collector.playerErrors[0] != 150 {
		t.Fatalf("player errors = %v", h.collector.playerErrors)
	}
	if len(h.timelines) == 0 || h.timelines[len(h.timelines)-1].Error == "" {
		t.Fatalf("timeline does not show the error: %+v", h.timelines)
	}

	h.player.reset()
	if err := h.gesture(h.r.retry); err != nil {
		t.Fatal(err)
	}
	if len(h.player.named("stop")) != 1 || len(h.player.named("cue")) != 1 {
		t.Fatalf("retry calls = %+v", h.player.calls)
	}
}

func TestSelectMediaGestureValidates(t *testing.T) {
	h := newHarness(t)

	err := h.gesture(func() error { return h.r.selectMedia("https://example.com/v", 0) })
	if !errors.Is(err, playback.ErrMalformedMediaRef) {
		t.Fatalf("expected ErrMalformedMediaRef, got %v", err)
	}
	if len(h.proposer.ops) != 0 {
		t.Fatal("malformed selection was proposed")
	}

	if err := h.gesture(func() error { return h.r.selectMedia("abc123", 30) }); err != nil {
		t.Fatal(err)
	}
	if kinds := h.proposer.kinds(); len(kinds) != 1 || kinds[0] != playback.OpSelectMedia {
		t.Fatalf("proposals = %v", kinds)
	}
}

func TestTogglePauseCarriesLocalPosition(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.proposer.ops = nil
	h.player.position = 12.5

	if err := h.gesture(h.r.togglePause); err != nil {
		t.Fatal(err)
	}

	if len(h.proposer.ops) != 1 || h.proposer.ops[0].Kind != playback.OpSetPaused {
		t.Fatalf("proposals = %v", h.proposer.kinds())
	}
	var p playback.SetPausedPayload
	_ = h.proposer.ops[0].Decode(&p)
	if !p.Paused || p.Position == nil || *p.Position != 12.5 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestTogglePauseOnEndedRestarts(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.apply(playback.SetEnded(true))
	h.proposer.ops = nil

	if err := h.gesture(h.r.togglePause); err != nil {
		t.Fatal(err)
	}

	kinds := h.proposer.kinds()
	if len(kinds) != 2 || kinds[0] != playback.OpSetEnded || kinds[1] != playback.OpSetPaused {
		t.Fatalf("proposals = %v, want [SetEnded SetPaused]", kinds)
	}
}

func TestStepIgnoresTargetsOutsideMedia(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)
	h.apply(playback.ReportDuration(100))
	h.proposer.ops = nil

	h.player.position = 2
	_ = h.gesture(func() error { return h.r.stepBy(-5) })
	h.player.position = 98
	_ = h.gesture(func() error { return h.r.stepBy(5) })
	if len(h.proposer.ops) != 0 {
		t.Fatalf("out of range steps proposed: %v", h.proposer.kinds())
	}

	h.player.position = 40
	_ = h.gesture(func() error { return h.r.stepBy(5) })
	if len(h.proposer.ops) != 1 {
		t.Fatalf("proposals = %v", h.proposer.kinds())
	}
	var p playback.SeekPayload
	_ = h.proposer.ops[0].Decode(&p)
	if p.Position != 45 {
		t.Fatalf("stepped to %v, want 45", p.Position)
	}
}

func TestGesturesNeedMedia(t *testing.T) {
	h := newHarness(t)
	h.r.step(player.Signal{Kind: player.SignalReady})

	for name, fn := range map[string]func() error{
		"toggle":  h.r.togglePause,
		"restart": h.r.restart,
		"seek":    func() error { return h.r.seek(3) },
	} {
		if err := h.gesture(fn); !errors.Is(err, ErrNoMedia) {
			t.Errorf("%s: expected ErrNoMedia, got %v", name, err)
		}
	}
}

func TestDurationIsReportedAfterCue(t *testing.T) {
	h := newHarness(t)
	h.player.duration = 212
	h.apply(playback.SelectMedia("abc123", 0))
	h.r.step(player.Signal{Kind: player.SignalReady})
	h.signal(player.StatusCued)
	h.signal(player.StatusPlaying)

	var found bool
	for _, op := range h.proposer.ops {
		if op.Kind == playback.OpReportDuration {
			var p playback.ReportDurationPayload
			_ = op.Decode(&p)
			found = p.Seconds == 212
		}
	}
	if !found {
		t.Fatalf("proposals = %v, want ReportDuration(212)", h.proposer.kinds())
	}
}

func TestStaleOutcomesAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.playing("abc123", 0)

	stale := &command{kind: cmdPosition, gen: h.r.gen, done: func(any, error) {
		t.Fatal("stale outcome handled")
	}}
	h.apply(playback.SelectMedia("other", 0))
	h.r.step(outcome{cmd: stale, value: 99.0})
}

func TestRunProcessesGestures(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	replica := playback.NewReplica("room-1", clock)
	proposer := &fakeProposer{}
	r := New("alice", DefaultConfig(), Deps{
		Authority: replica,
		Proposer:  proposer,
		Player:    newFakePlayer(),
		Clock:     clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := r.RequestSelectMedia(ctx, "abc123", 5); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(proposer.kinds()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("selection never proposed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}
