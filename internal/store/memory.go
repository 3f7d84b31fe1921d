package store

import (
	"context"
	"sync"
)

// MemoryStore is the in-process SessionStore backend. Sessions are cloned
// on both read and write so no caller can mutate store-owned state without
// going through PutSession.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ReviewSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*ReviewSession)}
}

func (s *MemoryStore) PutSession(_ context.Context, session *ReviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) FindActiveByCommit(_ context.Context, commitSHA, repository string) (*ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Status == StatusActive && session.CommitSHA == commitSHA && session.Repository == repository {
			return session.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ReviewSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
