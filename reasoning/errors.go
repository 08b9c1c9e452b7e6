package reasoning

import "errors"

// ErrSessionNotActive indicates the reasoning session already
// completed or halted.
var ErrSessionNotActive = errors.New("reasoning session not active")

// ErrWrongStage indicates an operation that does not apply to the
// session's current pipeline position.
var ErrWrongStage = errors.New("wrong reasoning stage")
