package engine

import "errors"

// ErrUnknownWorkflow indicates the requested workflow name has no
// loaded phase graph.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrCriticalBranchFailure indicates a fail-on-error branch of a
// parallel phase failed, which halts the whole workflow.
var ErrCriticalBranchFailure = errors.New("critical branch failure")

// ErrSessionTerminal indicates an operation was attempted on a session
// whose machine is already in a terminal status.
var ErrSessionTerminal = errors.New("session is terminal")
