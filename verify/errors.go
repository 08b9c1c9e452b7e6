package verify

import "errors"

// ErrPhaseNotVerified indicates that a phase's completion proof is
// missing or does not satisfy the artifact contract.
var ErrPhaseNotVerified = errors.New("phase not verified")
