package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/player"
)

func instant() Config {
	return Config{
		DefaultDuration: 600,
		Durations:       map[string]float64{"short": 3},
		ErrorCodes:      map[string]int{"gone": player.ErrorNotFound},
	}
}

func drain(p *Player) []player.Signal {
	var out []player.Signal
	for {
		select {
		case s := <-p.Signals():
			out = append(out, s)
		default:
			return out
		}
	}
}

func statuses(sigs []player.Signal) []player.Status {
	var out []player.Status
	for _, s := range sigs {
		if s.Kind == player.SignalStateChange {
			out = append(out, s.Status)
		}
	}
	return out
}

func TestCommandsBeforeReadyFail(t *testing.T) {
	p := New(clockwork.NewFakeClock(), instant())
	if err := p.Play(context.Background()); !errors.Is(err, player.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	p.Start()
	if sigs := drain(p); len(sigs) != 1 || sigs[0].Kind != player.SignalReady {
		t.Fatalf("signals = %+v", sigs)
	}
}

func TestPlaybackAdvancesWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock, instant())
	p.Start()
	ctx := context.Background()

	_ = p.Cue(ctx, "abc123", 10)
	_ = p.Play(ctx)
	clock.Advance(5 * time.Second)

	if pos, _ := p.CurrentTime(ctx); pos != 15 {
		t.Fatalf("position = %v, want 15", pos)
	}
	_ = p.Pause(ctx)
	clock.Advance(5 * time.Second)
	if pos, _ := p.CurrentTime(ctx); pos != 15 {
		t.Fatalf("paused position = %v, want 15", pos)
	}

	got := statuses(drain(p))
	want := []player.Status{player.StatusCued, player.StatusBuffering, player.StatusPlaying, player.StatusPaused}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestPlaybackEnds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(clock, instant())
	p.Start()
	ctx := context.Background()

	_ = p.Cue(ctx, "short", 0)
	_ = p.Play(ctx)
	clock.Advance(3 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for p.Status() != player.StatusEnded {
		if time.Now().After(deadline) {
			t.Fatalf("status = %v, want ended", p.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d, _ := p.Duration(ctx); d != 3 {
		t.Fatalf("duration = %v", d)
	}
}

func TestCueOfBrokenMediaSignalsError(t *testing.T) {
	p := New(clockwork.NewFakeClock(), instant())
	p.Start()
	drain(p)

	_ = p.Cue(context.Background(), "gone", 0)

	var code int
	for _, s := range drain(p) {
		if s.Kind == player.SignalError {
			code = s.Code
		}
	}
	if code != player.ErrorNotFound {
		t.Fatalf("error code = %d, want %d", code, player.ErrorNotFound)
	}
}

func TestFailNextAndVolume(t *testing.T) {
	p := New(clockwork.NewFakeClock(), instant())
	p.Start()
	ctx := context.Background()

	boom := errors.New("boom")
	p.FailNext("seek", boom)
	if err := p.SeekTo(ctx, 5, true); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := p.SeekTo(ctx, 5, true); err != nil {
		t.Fatalf("second seek: %v", err)
	}

	_ = p.SetVolume(ctx, 140)
	if v, _ := p.Volume(ctx); v != 100 {
		t.Fatalf("volume = %d, want clamp to 100", v)
	}
	_ = p.Mute(ctx)
	if m, _ := p.IsMuted(ctx); !m {
		t.Fatal("expected muted")
	}
}

func TestCommandHonoursContextDuringLatency(t *testing.T) {
	cfg := instant()
	cfg.Latency = time.Second
	p := New(clockwork.NewFakeClock(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Play(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
