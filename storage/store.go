// Package storage provides durable session state storage for
// Stagehand, with a filesystem backend and a NATS JetStream KV
// backend. Both backends serialize the full state document on every
// save; there are no partial writes.
package storage

import (
	"context"

	"github.com/stagehand-dev/stagehand/session"
)

// Store persists workflow and reasoning session state. A given
// session id has exactly one live document; Save replaces it whole.
// Writers are not coordinated: callers must serialize mutations for a
// session (last write wins).
type Store interface {
	// SaveWorkflow persists the full workflow state document.
	SaveWorkflow(ctx context.Context, state *session.WorkflowState) error
	// LoadWorkflow retrieves a workflow state by session id.
	// Returns ErrSessionNotFound when the session does not exist.
	LoadWorkflow(ctx context.Context, sessionID string) (*session.WorkflowState, error)
	// DeleteWorkflow removes a workflow session.
	DeleteWorkflow(ctx context.Context, sessionID string) error
	// ListWorkflowSessions returns the ids of all stored workflow
	// sessions.
	ListWorkflowSessions(ctx context.Context) ([]string, error)

	// SaveReasoning persists the full reasoning state document.
	SaveReasoning(ctx context.Context, state *session.ReasoningState) error
	// LoadReasoning retrieves a reasoning state by session id.
	// Returns ErrSessionNotFound when the session does not exist.
	LoadReasoning(ctx context.Context, sessionID string) (*session.ReasoningState, error)
	// ListReasoning returns every stored reasoning session. Used by
	// the pending-dispatch recovery scan.
	ListReasoning(ctx context.Context) ([]*session.ReasoningState, error)
}
