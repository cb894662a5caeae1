package capture

import "fmt"

// State is the capture session lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring_device"
	StateLive      State = "live"
	StateComposing State = "composing"
	StatePreview   State = "preview"
	StateClosed    State = "closed"
	StateError     State = "error"
)

// IsTerminal reports whether the session is finished.
func IsTerminal(s State) bool {
	return s == StateClosed || s == StateError
}

func isAllowedTransition(from, to State) bool {
	// Cancellation may close from any non-terminal state.
	if to == StateClosed && !IsTerminal(from) {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateAcquiring
	case StateAcquiring:
		return to == StateLive || to == StateError
	case StateLive:
		return to == StateComposing || to == StateError
	case StateComposing:
		return to == StatePreview || to == StateError
	case StatePreview:
		// Back to acquisition on retake.
		return to == StateAcquiring
	default:
		return false
	}
}

// transition validates and applies a state change. The caller supplies the
// expected prior state so misuse (e.g. shutter before the stream is live)
// surfaces as an error instead of corrupting the session.
func (s *Session) transition(from, to State) error {
	if s.state != from {
		return fmt.Errorf("invalid transition: expected %s, session is %s", from, s.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	s.state = to
	return nil
}
