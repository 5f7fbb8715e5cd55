// Package memory provides process-lifetime, in-memory stores.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// SessionStore is an in-memory implementation of ports.SessionStore. Each
// operation is atomic; sequences of operations on the same session are not,
// so concurrent writers to one session id resolve as last-writer-wins.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionState
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.SessionState),
	}
}

func (s *SessionStore) GetOrCreate(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copySession(s.session(sessionID)), nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ports.ErrNotFound)
	}
	return copySession(sess), nil
}

func (s *SessionStore) ReplaceMessages(ctx context.Context, sessionID string, messages []domain.ChatMessage) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	sess.Messages = slices.Clone(messages)
	return copySession(sess), nil
}

func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, message domain.ChatMessage) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	sess.Messages = append(sess.Messages, message)
	return copySession(sess), nil
}

func (s *SessionStore) RecordRun(ctx context.Context, sessionID, runID string, result *domain.PipelineResult) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	sess.LastRunID = runID
	sess.LastResult = result
	return copySession(sess), nil
}

func (s *SessionStore) Close() error {
	return nil
}

// session returns the live entry, creating it on first reference. Callers
// must hold s.mu for writing.
func (s *SessionStore) session(sessionID string) *domain.SessionState {
	sess, exists := s.sessions[sessionID]
	if !exists {
		sess = &domain.SessionState{SessionID: sessionID}
		s.sessions[sessionID] = sess
	}
	return sess
}

func copySession(sess *domain.SessionState) *domain.SessionState {
	out := *sess
	out.Messages = slices.Clone(sess.Messages)
	if out.Messages == nil {
		out.Messages = []domain.ChatMessage{}
	}
	return &out
}

var _ ports.SessionStore = (*SessionStore)(nil)
