package reconciler

import (
	"context"
	"time"
)

type commandKind string

const (
	cmdPlay     commandKind = "play"
	cmdPause    commandKind = "pause"
	cmdStop     commandKind = "stop"
	cmdSeek     commandKind = "seek"
	cmdCue      commandKind = "cue"
	cmdPosition commandKind = "current_time"
	cmdDuration commandKind = "duration"
	cmdTimeline commandKind = "timeline"
	cmdMute     commandKind = "mute"
	cmdVolume   commandKind = "set_volume"
	cmdPropose  commandKind = "propose"
)

// command is one awaitable call against the player or the session. run
// executes off the loop; done runs back on the loop with the outcome, unless
// the command belongs to a previous media generation.
type command struct {
	kind commandKind
	gen  uint64
	run  func(ctx context.Context) (any, error)
	done func(value any, err error)
}

type outcome struct {
	cmd   *command
	value any
	err   error
}

type dispatcher interface {
	dispatch(c *command)
}

// asyncDispatcher runs each command in its own goroutine under the command
// timeout and posts the outcome back to the loop.
type asyncDispatcher struct {
	ctx     context.Context
	timeout time.Duration
	out     chan<- outcome
}

func (d *asyncDispatcher) dispatch(c *command) {
	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()
		v, err := c.run(ctx)
		select {
		case d.out <- outcome{cmd: c, value: v, err: err}:
		case <-d.ctx.Done():
		}
	}()
}
