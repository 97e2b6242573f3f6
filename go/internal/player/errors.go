package player

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by players asked to act before they signalled Ready.
var ErrNotReady = errors.New("player not ready")

// Error codes reported through SignalError.
const (
	ErrorInvalidParameter = 2
	ErrorHTML5            = 5
	ErrorNotFound         = 100
	ErrorNotEmbeddable    = 101
	ErrorNotEmbeddableAlt = 150
)

// ErrorDescription returns a human-readable description of a player error code.
func ErrorDescription(code int) string {
	switch code {
	case ErrorInvalidParameter:
		return "the request contains an invalid parameter value"
	case ErrorHTML5:
		return "the requested content cannot be played in an HTML5 player"
	case ErrorNotFound:
		return "the media was not found or has been removed"
	case ErrorNotEmbeddable, ErrorNotEmbeddableAlt:
		return "the owner of the media does not allow it to be played in embedded players"
	default:
		return fmt.Sprintf("unknown player error %d", code)
	}
}

// PlaybackError is a player-reported error.
type PlaybackError struct {
	Code int
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("player error %d: %s", e.Code, ErrorDescription(e.Code))
}
