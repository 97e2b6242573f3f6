package player

import "context"

// Status is the local player's playback status.
type Status int

const (
	StatusUnstarted Status = iota
	StatusBuffering
	StatusPlaying
	StatusPaused
	StatusEnded
	StatusCued
)

func (s Status) String() string {
	switch s {
	case StatusUnstarted:
		return "unstarted"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	case StatusCued:
		return "cued"
	default:
		return "unknown"
	}
}

// SignalKind identifies a player signal.
type SignalKind int

const (
	SignalReady SignalKind = iota
	SignalStateChange
	SignalError
)

// Signal is an asynchronous notification from the player.
type Signal struct {
	Kind   SignalKind
	Status Status // SignalStateChange
	Code   int    // SignalError
}

// Player is the local media player one participant drives. Commands may take
// arbitrarily long and must honour ctx.
type Player interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekTo(ctx context.Context, position float64, allowSeekAhead bool) error
	Cue(ctx context.Context, ref string, start float64) error

	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	IsMuted(ctx context.Context) (bool, error)
	SetVolume(ctx context.Context, volume int) error
	Volume(ctx context.Context) (int, error)

	CurrentTime(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	LoadedFraction(ctx context.Context) (float64, error)

	// Status returns the last known status without blocking.
	Status() Status
	// Signals delivers Ready, state changes and errors.
	Signals() <-chan Signal
}
