package derive

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a lifecycle change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid derivation transition")

// IsTerminal reports whether no further transitions can leave s.
func IsTerminal(s Status) bool {
	return s == StatusComplete || s == StatusFailed
}

// Transition validates a lifecycle change from -> to. Repeated partial
// results keep a derivation in streaming, so streaming -> streaming is valid.
func Transition(from, to Status) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func isAllowedTransition(from, to Status) bool {
	switch from {
	case StatusUnrequested:
		return to == StatusRequested
	case StatusRequested:
		return to == StatusStreaming || to == StatusComplete || to == StatusFailed
	case StatusStreaming:
		return to == StatusStreaming || to == StatusComplete || to == StatusFailed
	default:
		return false
	}
}
