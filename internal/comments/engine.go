// Package comments implements the comment operations of a review session:
// add, update, delete, resolve, and threaded replies.
package comments

import (
	"context"
	"errors"
	"time"

	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
	"reviewhub/api/internal/util"
)

// ErrCommentNotFound is returned when a reply targets a comment that does
// not exist. Replies cannot exist without an anchor, so unlike the
// boolean-returning mutators this is a hard error.
var ErrCommentNotFound = errors.New("comment not found")

type Engine struct {
	sessions *session.Manager
}

func NewEngine(sessions *session.Manager) *Engine {
	return &Engine{sessions: sessions}
}

// AddComment appends the comment to the session, assigning an id and
// creation timestamp when absent, and returns the canonical stored comment
// so callers broadcast the server-assigned id.
func (e *Engine) AddComment(ctx context.Context, sessionID string, comment store.LiveComment) (*store.LiveComment, error) {
	if comment.ID == "" {
		comment.ID = util.NewID("cmt")
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	if comment.Type == "" {
		comment.Type = store.CommentGeneral
	}
	if comment.Replies == nil {
		comment.Replies = []store.CommentReply{}
	}

	err := e.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		s.Comments = append(s.Comments, &comment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateComment replaces content, file, line, and type of the matching
// comment and stamps the update time. The resolved flag and replies are
// untouched; resolving is a dedicated operation. Reports false when no
// comment matches.
func (e *Engine) UpdateComment(ctx context.Context, sessionID string, comment store.LiveComment) (bool, error) {
	err := e.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		existing := s.FindComment(comment.ID)
		if existing == nil {
			return session.ErrNoChange
		}
		existing.Content = comment.Content
		existing.FileName = comment.FileName
		existing.Line = comment.Line
		if comment.Type != "" {
			existing.Type = comment.Type
		}
		now := time.Now().UTC()
		existing.UpdatedAt = &now
		return nil
	})
	return mutationResult(err)
}

// DeleteComment removes the comment and its replies from the session.
func (e *Engine) DeleteComment(ctx context.Context, sessionID, commentID string) (bool, error) {
	err := e.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		for i, c := range s.Comments {
			if c.ID == commentID {
				s.Comments = append(s.Comments[:i], s.Comments[i+1:]...)
				return nil
			}
		}
		return session.ErrNoChange
	})
	return mutationResult(err)
}

// ResolveComment sets the resolved flag. Setting the flag to its current
// value still reports true.
func (e *Engine) ResolveComment(ctx context.Context, sessionID, commentID string, isResolved bool) (bool, error) {
	found := false
	err := e.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		existing := s.FindComment(commentID)
		if existing == nil {
			return session.ErrNoChange
		}
		found = true
		if existing.Resolved == isResolved {
			return session.ErrNoChange
		}
		existing.Resolved = isResolved
		return nil
	})
	if errors.Is(err, session.ErrNoChange) {
		return found, nil
	}
	return mutationResult(err)
}

// AddCommentReply appends a reply to the parent comment and returns the
// canonical stored reply. A missing parent is ErrCommentNotFound and leaves
// the comment list untouched.
func (e *Engine) AddCommentReply(ctx context.Context, sessionID, commentID string, reply store.CommentReply) (*store.CommentReply, error) {
	if reply.ID == "" {
		reply.ID = util.NewID("rpl")
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}

	err := e.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		existing := s.FindComment(commentID)
		if existing == nil {
			return ErrCommentNotFound
		}
		existing.Replies = append(existing.Replies, reply)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// GetSessionComments snapshots the session's comment list in insertion
// order.
func (e *Engine) GetSessionComments(ctx context.Context, sessionID string) ([]*store.LiveComment, error) {
	s, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Comments, nil
}

func mutationResult(err error) (bool, error) {
	if errors.Is(err, session.ErrNoChange) || errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
