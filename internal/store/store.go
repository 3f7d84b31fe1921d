// Package store owns the review-session aggregates and their persistence
// backends. The store is the single source of truth; every other component
// reads and writes sessions through the SessionStore interface.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups when no session matches.
var ErrNotFound = errors.New("session not found")

// SessionStore is the keyed persistence boundary for review sessions.
// Implementations must be safe for concurrent use; serialization of
// read-modify-write cycles on one session is the caller's concern.
type SessionStore interface {
	// PutSession upserts the full aggregate.
	PutSession(ctx context.Context, session *ReviewSession) error
	// GetSession returns the session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*ReviewSession, error)
	// FindActiveByCommit returns the active session for a (commit,
	// repository) pair, or ErrNotFound. Completed and archived sessions
	// never match.
	FindActiveByCommit(ctx context.Context, commitSHA, repository string) (*ReviewSession, error)
	// ListSessions returns every stored session regardless of status.
	ListSessions(ctx context.Context) ([]*ReviewSession, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
