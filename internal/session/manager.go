// Package session manages review-session lifecycle: idempotent creation,
// lookups, activity tracking, archival, and reaping of idle sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reviewhub/api/internal/store"
	"reviewhub/api/internal/util"
)

// ErrNoChange is returned from a Mutate callback to commit nothing while
// still reporting success to the caller.
var ErrNoChange = errors.New("session unchanged")

// Manager coordinates all writes to the session store. Every mutation of a
// session runs through Mutate, inside that session's critical section.
type Manager struct {
	store         store.SessionStore
	locks         *sessionLocks
	createLock    *sessionLocks
	idleThreshold time.Duration
}

func NewManager(st store.SessionStore, idleThreshold time.Duration) *Manager {
	return &Manager{
		store:         st,
		locks:         newSessionLocks(),
		createLock:    newSessionLocks(),
		idleThreshold: idleThreshold,
	}
}

// Mutate runs fn on the current aggregate inside the session's critical
// section and persists the result. fn may return ErrNoChange to skip the
// write. The lock covers only the read-modify-write cycle, never any
// broadcast the caller performs afterwards.
func (m *Manager) Mutate(ctx context.Context, sessionID string, fn func(*store.ReviewSession) error) error {
	lock := m.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		return err
	}
	session.LastActivityAt = time.Now().UTC()
	if err := m.store.PutSession(ctx, session); err != nil {
		return fmt.Errorf("persist session %s: %w", sessionID, err)
	}
	return nil
}

// CreateSession returns the existing active session for the commit when one
// exists, otherwise creates a fresh one. Creation is serialized per
// (commit, repository) pair so two racing first joins converge on one id.
func (m *Manager) CreateSession(ctx context.Context, commitSHA, repository, creatorID, creatorName string) (*store.ReviewSession, error) {
	lock := m.createLock.get(repository + "@" + commitSHA)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.FindActiveByCommit(ctx, commitSHA, repository)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	session := &store.ReviewSession{
		ID:             util.NewID("sess"),
		CommitSHA:      commitSHA,
		Repository:     repository,
		CreatedByID:    creatorID,
		CreatedByName:  creatorName,
		Status:         store.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   make(map[string]*store.SessionParticipant),
		Comments:       []*store.LiveComment{},
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (m *Manager) GetSession(ctx context.Context, id string) (*store.ReviewSession, error) {
	return m.store.GetSession(ctx, id)
}

func (m *Manager) GetSessionByCommit(ctx context.Context, commitSHA, repository string) (*store.ReviewSession, error) {
	return m.store.FindActiveByCommit(ctx, commitSHA, repository)
}

// ListSessions returns every session regardless of status.
func (m *Manager) ListSessions(ctx context.Context) ([]*store.ReviewSession, error) {
	return m.store.ListSessions(ctx)
}

func (m *Manager) GetActiveSessions(ctx context.Context) ([]*store.ReviewSession, error) {
	return m.activeSessions(ctx, "")
}

func (m *Manager) GetActiveSessionsForRepository(ctx context.Context, repository string) ([]*store.ReviewSession, error) {
	return m.activeSessions(ctx, repository)
}

func (m *Manager) activeSessions(ctx context.Context, repository string) ([]*store.ReviewSession, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*store.ReviewSession, 0, len(sessions))
	for _, session := range sessions {
		if session.Status != store.StatusActive {
			continue
		}
		if repository != "" && session.Repository != repository {
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

// ArchiveSession marks the session archived. Archiving an already-archived
// session reports success. Returns false only when the session is unknown.
func (m *Manager) ArchiveSession(ctx context.Context, id string) (bool, error) {
	return m.setStatus(ctx, id, store.StatusArchived)
}

// CompleteSession marks the session completed, removing it from active
// queries while keeping it retrievable by id.
func (m *Manager) CompleteSession(ctx context.Context, id string) (bool, error) {
	return m.setStatus(ctx, id, store.StatusCompleted)
}

func (m *Manager) setStatus(ctx context.Context, id string, status store.SessionStatus) (bool, error) {
	err := m.Mutate(ctx, id, func(session *store.ReviewSession) error {
		if session.Status == status {
			return ErrNoChange
		}
		session.Status = status
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateSessionActivity refreshes the last-activity timestamp.
func (m *Manager) UpdateSessionActivity(ctx context.Context, id string) error {
	return m.Mutate(ctx, id, func(*store.ReviewSession) error { return nil })
}

// CleanupInactiveSessions archives every session that has been idle past
// the threshold and holds no active participants. Each candidate is
// re-checked inside its critical section, so a join racing the sweep wins.
// Safe to run concurrently with itself and with normal traffic.
func (m *Manager) CleanupInactiveSessions(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-m.idleThreshold)
	archived := 0
	var errs []error
	for _, candidate := range sessions {
		if !m.reapable(candidate, cutoff) {
			continue
		}
		err := m.Mutate(ctx, candidate.ID, func(session *store.ReviewSession) error {
			if !m.reapable(session, cutoff) {
				return ErrNoChange
			}
			session.Status = store.StatusArchived
			return nil
		})
		switch {
		case err == nil:
			archived++
		case errors.Is(err, ErrNoChange), errors.Is(err, store.ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("reap session %s: %w", candidate.ID, err))
		}
	}
	return archived, errors.Join(errs...)
}

func (m *Manager) reapable(session *store.ReviewSession, cutoff time.Time) bool {
	if session.Status == store.StatusArchived {
		return false
	}
	if session.ActiveParticipantCount() > 0 {
		return false
	}
	return session.LastActivityAt.Before(cutoff)
}
