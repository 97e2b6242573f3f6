package reconciler

import (
	"context"
	"time"

	"github.com/mcdev12/watchsync/go/internal/player"
	"github.com/mcdev12/watchsync/go/internal/playback"
)

// RequestSelectMedia proposes a new media selection. Malformed references are
// rejected with playback.ErrMalformedMediaRef and never proposed.
func (r *Reconciler) RequestSelectMedia(ctx context.Context, ref string, startOffset float64) error {
	return r.submit(ctx, func() error { return r.selectMedia(ref, startOffset) })
}

// RequestTogglePause proposes the opposite of the local play state, carrying
// the local position. An ended session is restarted instead.
func (r *Reconciler) RequestTogglePause(ctx context.Context) error {
	return r.submit(ctx, r.togglePause)
}

// RequestSeek seeks locally and proposes the new position.
func (r *Reconciler) RequestSeek(ctx context.Context, position float64) error {
	return r.submit(ctx, func() error { return r.seek(position) })
}

// RequestRestart proposes playback from the start.
func (r *Reconciler) RequestRestart(ctx context.Context) error {
	return r.submit(ctx, r.restart)
}

// RequestStep seeks delta seconds from the local position. Targets outside
// the media are ignored.
func (r *Reconciler) RequestStep(ctx context.Context, delta float64) error {
	return r.submit(ctx, func() error { return r.stepBy(delta) })
}

// RequestStepForward and RequestStepBack step by the configured amount.
func (r *Reconciler) RequestStepForward(ctx context.Context) error {
	return r.RequestStep(ctx, r.cfg.StepSeconds)
}

func (r *Reconciler) RequestStepBack(ctx context.Context) error {
	return r.RequestStep(ctx, -r.cfg.StepSeconds)
}

// ToggleMute flips the local mute state. It never touches the session.
func (r *Reconciler) ToggleMute(ctx context.Context) error {
	return r.submit(ctx, r.toggleMute)
}

// SetVolume sets the local volume, clamped to 0..100.
func (r *Reconciler) SetVolume(ctx context.Context, volume int) error {
	return r.submit(ctx, func() error { return r.setVolume(volume) })
}

// Retry reloads the current media after a player error.
func (r *Reconciler) Retry(ctx context.Context) error {
	return r.submit(ctx, r.retry)
}

func (r *Reconciler) selectMedia(ref string, startOffset float64) error {
	if err := playback.ValidateMediaRef(ref); err != nil {
		return err
	}
	r.propose(playback.SelectMedia(ref, startOffset))
	return nil
}

func (r *Reconciler) togglePause() error {
	st := r.authority.State()
	if !st.HasMedia() {
		return ErrNoMedia
	}
	if st.Ended || r.status == player.StatusEnded {
		return r.restart()
	}
	if !r.ready {
		return ErrNotReady
	}

	pause := r.status == player.StatusPlaying || r.status == player.StatusBuffering
	r.issue(cmdPosition, true, func(ctx context.Context) (any, error) {
		return r.player.CurrentTime(ctx)
	}, func(v any, err error) {
		if err != nil {
			return
		}
		r.propose(playback.SetPaused(pause, v.(float64)))
	})
	return nil
}

func (r *Reconciler) seek(position float64) error {
	if !r.authority.State().HasMedia() {
		return ErrNoMedia
	}
	if r.ready {
		r.seekTo(position)
	}
	r.propose(playback.Seek(position))
	return nil
}

func (r *Reconciler) restart() error {
	if !r.authority.State().HasMedia() {
		return ErrNoMedia
	}
	r.propose(playback.SetEnded(false), playback.SetPaused(false, 0))
	return nil
}

func (r *Reconciler) stepBy(delta float64) error {
	if !r.authority.State().HasMedia() {
		return ErrNoMedia
	}
	if !r.ready {
		return ErrNotReady
	}

	r.issue(cmdPosition, true, func(ctx context.Context) (any, error) {
		return r.player.CurrentTime(ctx)
	}, func(v any, err error) {
		if err != nil {
			return
		}
		target := v.(float64) + delta
		if target < 0 {
			return
		}
		if d, ok := r.authority.State().DurationKnown(); ok && target > d {
			return
		}
		r.seekTo(target)
		r.propose(playback.Seek(target))
	})
	return nil
}

func (r *Reconciler) toggleMute() error {
	r.issue(cmdMute, false, func(ctx context.Context) (any, error) {
		muted, err := r.player.IsMuted(ctx)
		if err != nil {
			return nil, err
		}
		if muted {
			return false, r.player.Unmute(ctx)
		}
		return true, r.player.Mute(ctx)
	}, func(any, error) {
		r.lastRender = time.Time{}
	})
	return nil
}

func (r *Reconciler) setVolume(volume int) error {
	volume = min(max(volume, 0), 100)
	r.issue(cmdVolume, false, func(ctx context.Context) (any, error) {
		return nil, r.player.SetVolume(ctx, volume)
	}, func(any, error) {
		r.lastRender = time.Time{}
	})
	return nil
}

func (r *Reconciler) retry() error {
	if !r.ready {
		return ErrNotReady
	}
	st := r.authority.State()
	if !st.HasMedia() {
		return ErrNoMedia
	}
	r.resetMedia(st.MediaRef)
	r.issue(cmdStop, false, func(ctx context.Context) (any, error) {
		return nil, r.player.Stop(ctx)
	}, nil)
	r.loadCurrent(st)
	return nil
}
