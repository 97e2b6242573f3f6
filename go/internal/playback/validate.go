package playback

import (
	"errors"
	"fmt"
)

// ErrMalformedMediaRef rejects a media reference before it is proposed.
var ErrMalformedMediaRef = errors.New("malformed media reference")

const maxMediaRefLen = 64

// ValidateMediaRef checks that ref is a plausible opaque media identifier.
// It runs on the proposing side only; Apply accepts any reference.
func ValidateMediaRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty", ErrMalformedMediaRef)
	}
	if len(ref) > maxMediaRefLen {
		return fmt.Errorf("%w: longer than %d characters", ErrMalformedMediaRef, maxMediaRefLen)
	}
	for _, c := range ref {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: invalid character %q", ErrMalformedMediaRef, c)
		}
	}
	return nil
}
