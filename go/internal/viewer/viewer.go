// Package viewer holds the console front end of the headless viewer: a
// presenter that logs the local timeline and a line-oriented command reader.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mcdev12/watchsync/go/internal/reconciler"
	"github.com/rs/zerolog/log"
)

// Controls is the subset of the reconciler the command reader drives.
type Controls interface {
	RequestSelectMedia(ctx context.Context, ref string, startOffset float64) error
	RequestTogglePause(ctx context.Context) error
	RequestSeek(ctx context.Context, position float64) error
	RequestRestart(ctx context.Context) error
	RequestStepForward(ctx context.Context) error
	RequestStepBack(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	SetVolume(ctx context.Context, volume int) error
	Retry(ctx context.Context) error
}

// ErrUnknownCommand is returned by Execute for unrecognised input.
var ErrUnknownCommand = errors.New("unknown command")

// LogPresenter logs every rendered timeline.
func LogPresenter(participantID string) reconciler.Presenter {
	return reconciler.PresenterFunc(func(t reconciler.Timeline) {
		ev := log.Info()
		if t.Error != "" {
			ev = log.Warn().Str("error", t.Error)
		}
		ev.
			Str("participant_id", participantID).
			Str("media_ref", t.MediaRef).
			Str("position", fmt.Sprintf("%.1f/%.1f", t.Position, t.Duration)).
			Float64("buffered", t.Buffered).
			Bool("paused", t.Paused).
			Bool("ended", t.Ended).
			Bool("muted", t.Muted).
			Int("volume", t.Volume).
			Msg("timeline")
	})
}

// ReadCommands executes one command per input line until r is exhausted or
// ctx is done.
func ReadCommands(ctx context.Context, r io.Reader, c Controls) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := Execute(ctx, c, line); err != nil {
			log.Error().Err(err).Str("command", line).Msg("command failed")
		}
	}
}

// Execute runs a single command line:
//
//	select <ref> [offset] | pause | seek <seconds> | restart | fwd | back
//	mute | volume <0-100> | retry
func Execute(ctx context.Context, c Controls, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ErrUnknownCommand
	}
	args := fields[1:]

	switch fields[0] {
	case "select":
		if len(args) == 0 {
			return fmt.Errorf("select needs a media reference")
		}
		var offset float64
		if len(args) > 1 {
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid offset: %w", err)
			}
			offset = v
		}
		return c.RequestSelectMedia(ctx, args[0], offset)
	case "pause", "play", "p":
		return c.RequestTogglePause(ctx)
	case "seek":
		if len(args) != 1 {
			return fmt.Errorf("seek needs a position")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid position: %w", err)
		}
		return c.RequestSeek(ctx, v)
	case "restart":
		return c.RequestRestart(ctx)
	case "fwd", "+":
		return c.RequestStepForward(ctx)
	case "back", "-":
		return c.RequestStepBack(ctx)
	case "mute":
		return c.ToggleMute(ctx)
	case "volume":
		if len(args) != 1 {
			return fmt.Errorf("volume needs a level")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid volume: %w", err)
		}
		return c.SetVolume(ctx, v)
	case "retry":
		return c.Retry(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}
