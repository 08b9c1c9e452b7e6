package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/stagehand-dev/stagehand/session"
)

// Bucket names for each state kind.
const (
	BucketSessions  = "STAGEHAND_SESSIONS"
	BucketReasoning = "STAGEHAND_REASONING"
)

// KVStore persists session state in NATS JetStream KV buckets, one
// bucket per state kind, keyed by session id. Put is last-write-wins,
// matching the single-writer-per-session contract.
type KVStore struct {
	sessions  jetstream.KeyValue
	reasoning jetstream.KeyValue
}

// NewKVStore creates a KVStore with the given JetStream context,
// creating the buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	sessions, err := getOrCreateBucket(ctx, js, BucketSessions)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	reasoning, err := getOrCreateBucket(ctx, js, BucketReasoning)
	if err != nil {
		return nil, fmt.Errorf("create reasoning bucket: %w", err)
	}

	return &KVStore{
		sessions:  sessions,
		reasoning: reasoning,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Stagehand %s state", name),
		History:     5, // Keep last 5 revisions
	})
}

// SaveWorkflow persists the full workflow state document.
func (s *KVStore) SaveWorkflow(ctx context.Context, state *session.WorkflowState) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.sessions.Put(ctx, state.SessionID, data); err != nil {
		return fmt.Errorf("store workflow state: %w", err)
	}
	return nil
}

// LoadWorkflow retrieves a workflow state by session id.
func (s *KVStore) LoadWorkflow(ctx context.Context, sessionID string) (*session.WorkflowState, error) {
	entry, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get workflow state: %w", err)
	}
	return session.Unmarshal(entry.Value())
}

// DeleteWorkflow removes a workflow session.
func (s *KVStore) DeleteWorkflow(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		if isNotFound(err) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get workflow state: %w", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete workflow state: %w", err)
	}
	return nil
}

// ListWorkflowSessions returns the ids of all stored workflow sessions.
func (s *KVStore) ListWorkflowSessions(ctx context.Context) ([]string, error) {
	keys, err := s.sessions.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflow sessions: %w", err)
	}
	return keys, nil
}

// SaveReasoning persists the full reasoning state document.
func (s *KVStore) SaveReasoning(ctx context.Context, state *session.ReasoningState) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.reasoning.Put(ctx, state.SessionID, data); err != nil {
		return fmt.Errorf("store reasoning state: %w", err)
	}
	return nil
}

// LoadReasoning retrieves a reasoning state by session id.
func (s *KVStore) LoadReasoning(ctx context.Context, sessionID string) (*session.ReasoningState, error) {
	entry, err := s.reasoning.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get reasoning state: %w", err)
	}
	return session.UnmarshalReasoning(entry.Value())
}

// ListReasoning returns every stored reasoning session.
func (s *KVStore) ListReasoning(ctx context.Context) ([]*session.ReasoningState, error) {
	keys, err := s.reasoning.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reasoning sessions: %w", err)
	}

	states := make([]*session.ReasoningState, 0, len(keys))
	for _, key := range keys {
		entry, err := s.reasoning.Get(ctx, key)
		if err != nil {
			continue // skip entries that fail to load
		}
		state, err := session.UnmarshalReasoning(entry.Value())
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}
