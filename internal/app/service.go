// Package app exposes the management surface of the review engine: session
// creation and lookup, archival, comment/participant listings, and the
// cleanup trigger. Real-time traffic goes through the hub instead.
package app

import (
	"context"
	"strings"

	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/presence"
	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
)

type Service struct {
	sessions *session.Manager
	presence *presence.Tracker
	comments *comments.Engine
	store    store.SessionStore
}

func New(sessions *session.Manager, tracker *presence.Tracker, engine *comments.Engine, st store.SessionStore) *Service {
	return &Service{sessions: sessions, presence: tracker, comments: engine, store: st}
}

type CreateSessionInput struct {
	CommitSHA  string `json:"commitSha"`
	Repository string `json:"repository"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
}

// CreateSession is idempotent per (commit, repository): a second create
// with no intervening archive returns the first session unchanged.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*store.ReviewSession, error) {
	if strings.TrimSpace(in.CommitSHA) == "" {
		return nil, validationError("commitSha is required")
	}
	if strings.TrimSpace(in.Repository) == "" {
		return nil, validationError("repository is required")
	}
	return s.sessions.CreateSession(ctx, in.CommitSHA, in.Repository, in.UserID, in.UserName)
}

func (s *Service) GetSession(ctx context.Context, id string) (*store.ReviewSession, error) {
	return s.sessions.GetSession(ctx, id)
}

func (s *Service) GetSessionByCommit(ctx context.Context, commitSHA, repository string) (*store.ReviewSession, error) {
	if strings.TrimSpace(commitSHA) == "" || strings.TrimSpace(repository) == "" {
		return nil, validationError("commitSha and repository are required")
	}
	return s.sessions.GetSessionByCommit(ctx, commitSHA, repository)
}

// ListActiveSessions returns active sessions, optionally filtered by
// repository full name.
func (s *Service) ListActiveSessions(ctx context.Context, repository string) ([]*store.ReviewSession, error) {
	if repository != "" {
		return s.sessions.GetActiveSessionsForRepository(ctx, repository)
	}
	return s.sessions.GetActiveSessions(ctx)
}

func (s *Service) ArchiveSession(ctx context.Context, id string) (bool, error) {
	return s.sessions.ArchiveSession(ctx, id)
}

func (s *Service) CompleteSession(ctx context.Context, id string) (bool, error) {
	return s.sessions.CompleteSession(ctx, id)
}

func (s *Service) SessionComments(ctx context.Context, id string) ([]*store.LiveComment, error) {
	return s.comments.GetSessionComments(ctx, id)
}

func (s *Service) SessionParticipants(ctx context.Context, id string) ([]*store.SessionParticipant, error) {
	return s.presence.GetSessionParticipants(ctx, id)
}

// Cleanup runs one reaping sweep and reports how many sessions were
// archived.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	return s.sessions.CleanupInactiveSessions(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
