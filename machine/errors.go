package machine

import "errors"

// Machine errors.
var (
	// ErrNotVerified is returned when a transition away from a phase
	// is attempted without proof that the phase's work finished.
	ErrNotVerified = errors.New("phase not verified")

	// ErrInvalidTransition is returned when the requested transition
	// is not present in the phase graph's transition table. It
	// indicates a configuration bug, not a runtime condition.
	ErrInvalidTransition = errors.New("invalid transition")
)
