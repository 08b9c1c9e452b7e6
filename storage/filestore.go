package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stagehand-dev/stagehand/session"
)

const (
	workflowFile  = "state.json"
	reasoningFile = "reasoning.json"
)

// FileStore persists session state under a root directory, one
// session-scoped subdirectory per session id:
//
//	<root>/<session-id>/state.json
//	<root>/<session-id>/reasoning.json
//
// Writes go through a temp file and rename, so a crashed writer never
// leaves a torn document behind.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating it if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the session root directory.
func (s *FileStore) Root() string { return s.root }

// SaveWorkflow persists the full workflow state document.
func (s *FileStore) SaveWorkflow(_ context.Context, state *session.WorkflowState) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.writeDoc(state.SessionID, workflowFile, data)
}

// LoadWorkflow retrieves a workflow state by session id.
func (s *FileStore) LoadWorkflow(_ context.Context, sessionID string) (*session.WorkflowState, error) {
	data, err := s.readDoc(sessionID, workflowFile)
	if err != nil {
		return nil, err
	}
	return session.Unmarshal(data)
}

// DeleteWorkflow removes a workflow session directory.
func (s *FileStore) DeleteWorkflow(_ context.Context, sessionID string) error {
	path, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(path, workflowFile)); os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// ListWorkflowSessions returns the ids of all stored workflow sessions.
func (s *FileStore) ListWorkflowSessions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), workflowFile)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// SaveReasoning persists the full reasoning state document.
func (s *FileStore) SaveReasoning(_ context.Context, state *session.ReasoningState) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.writeDoc(state.SessionID, reasoningFile, data)
}

// LoadReasoning retrieves a reasoning state by session id.
func (s *FileStore) LoadReasoning(_ context.Context, sessionID string) (*session.ReasoningState, error) {
	data, err := s.readDoc(sessionID, reasoningFile)
	if err != nil {
		return nil, err
	}
	return session.UnmarshalReasoning(data)
}

// ListReasoning returns every stored reasoning session.
func (s *FileStore) ListReasoning(_ context.Context) ([]*session.ReasoningState, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list reasoning sessions: %w", err)
	}

	var states []*session.ReasoningState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name(), reasoningFile))
		if err != nil {
			continue
		}
		state, err := session.UnmarshalReasoning(data)
		if err != nil {
			continue // skip documents that fail to load
		}
		states = append(states, state)
	}
	return states, nil
}

// sessionDir validates the id and returns its directory path. The
// check keeps a malformed id from escaping the root.
func (s *FileStore) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

func (s *FileStore) writeDoc(sessionID, name string, data []byte) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit state file: %w", err)
	}
	return nil
}

func (s *FileStore) readDoc(sessionID, name string) ([]byte, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return data, nil
}
