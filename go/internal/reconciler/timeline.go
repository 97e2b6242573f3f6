package reconciler

import (
	"context"
	"time"

	"github.com/mcdev12/watchsync/go/internal/player"
)

// Timeline is what a participant's controls display.
type Timeline struct {
	MediaRef string  `json:"media_ref"`
	Position float64 `json:"position"` // local player position
	Duration float64 `json:"duration"`
	Buffered float64 `json:"buffered"` // loaded fraction, 0..1
	Paused   bool    `json:"paused"`
	Ended    bool    `json:"ended"`
	Seeking  bool    `json:"seeking"`
	Muted    bool    `json:"muted"`
	Volume   int     `json:"volume"`
	Error    string  `json:"error,omitempty"`
}

// Presenter renders timeline snapshots. Render is called from the reconciler
// loop and must not block.
type Presenter interface {
	Render(t Timeline)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(t Timeline)

func (f PresenterFunc) Render(t Timeline) { f(t) }

type noopPresenter struct{}

func (noopPresenter) Render(Timeline) {}

// maybeRender reads the player's timeline at most once per TimelineInterval
// and hands it to the presenter when it changed.
func (r *Reconciler) maybeRender(now time.Time) {
	if r.rendering || now.Sub(r.lastRender) < r.cfg.TimelineInterval {
		return
	}
	r.rendering = true
	r.lastRender = now

	r.issue(cmdTimeline, false, func(ctx context.Context) (any, error) {
		var (
			t   Timeline
			err error
		)
		if t.Position, err = r.player.CurrentTime(ctx); err != nil {
			return nil, err
		}
		if t.Duration, err = r.player.Duration(ctx); err != nil {
			return nil, err
		}
		if t.Buffered, err = r.player.LoadedFraction(ctx); err != nil {
			return nil, err
		}
		if t.Muted, err = r.player.IsMuted(ctx); err != nil {
			return nil, err
		}
		if t.Volume, err = r.player.Volume(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}, func(v any, err error) {
		r.rendering = false
		if err != nil {
			return
		}
		t := v.(Timeline)
		st := r.authority.State()
		t.MediaRef = st.MediaRef
		t.Paused = st.Paused
		t.Ended = st.Ended
		t.Seeking = r.seeking
		if r.playerErr != 0 {
			t.Error = player.ErrorDescription(r.playerErr)
		}
		if t == r.lastTimeline {
			return
		}
		r.lastTimeline = t
		r.presenter.Render(t)
	})
}
