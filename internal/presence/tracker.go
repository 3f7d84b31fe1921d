// Package presence tracks which connections participate in which review
// sessions: joins, leaves, abrupt disconnects, and live cursor positions.
// The tracker holds no state of its own; everything lives in the session
// store and is mutated inside the session's critical section.
package presence

import (
	"context"
	"errors"
	"time"

	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
)

var errSessionClosed = errors.New("session is not active")

type Tracker struct {
	sessions *session.Manager
}

func NewTracker(sessions *session.Manager) *Tracker {
	return &Tracker{sessions: sessions}
}

// JoinSession registers the participant under its connection id. Joining an
// unknown or non-active session reports false. Rejoining with the same
// connection id overwrites the previous record. The tracker is the only
// place a display color is assigned.
func (t *Tracker) JoinSession(ctx context.Context, sessionID string, participant *store.SessionParticipant) (bool, error) {
	err := t.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		if s.Status != store.StatusActive {
			return errSessionClosed
		}
		p := *participant
		p.Color = colorFor(p.UserID)
		p.JoinedAt = time.Now().UTC()
		p.IsActive = true
		s.Participants[p.ConnectionID] = &p
		return nil
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, errSessionClosed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LeaveSession removes the participant record for the connection. A missing
// participant or missing session is a no-op reported as false, never an
// error: leave must always converge.
func (t *Tracker) LeaveSession(ctx context.Context, sessionID, connectionID string) (bool, error) {
	err := t.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		if _, ok := s.Participants[connectionID]; !ok {
			return session.ErrNoChange
		}
		delete(s.Participants, connectionID)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, session.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OnConnectionDropped is the failure-recovery path for connections that
// vanish without a leave message. It scans every session for the connection
// id and removes each match, returning the ids of the sessions it left. In
// practice a connection belongs to at most one session; the scan tolerates
// more so a corrupt caller-side index can never strand a participant. The
// scan covers non-active sessions too, since a session can be completed
// while still occupied.
func (t *Tracker) OnConnectionDropped(ctx context.Context, connectionID string) ([]string, error) {
	sessions, err := t.sessions.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	var left []string
	var errs []error
	for _, s := range sessions {
		if _, ok := s.Participants[connectionID]; !ok {
			continue
		}
		removed, err := t.LeaveSession(ctx, s.ID, connectionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			left = append(left, s.ID)
		}
	}
	return left, errors.Join(errs...)
}

// UpdateCursor overwrites the cursor of every active participant record the
// user holds in the session. Reports false when the user is not present.
func (t *Tracker) UpdateCursor(ctx context.Context, sessionID, userID string, position store.CursorPosition) (bool, error) {
	found := false
	err := t.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
		position.UpdatedAt = time.Now().UTC()
		for _, p := range s.Participants {
			if p.UserID == userID && p.IsActive {
				cursor := position
				p.Cursor = &cursor
				found = true
			}
		}
		if !found {
			return session.ErrNoChange
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, session.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return found, nil
}

// GetActiveCursors snapshots every participant that has reported a cursor.
func (t *Tracker) GetActiveCursors(ctx context.Context, sessionID string) ([]*store.SessionParticipant, error) {
	s, err := t.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []*store.SessionParticipant
	for _, p := range s.Participants {
		if p.IsActive && p.Cursor != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetSessionParticipants snapshots the active participant records.
func (t *Tracker) GetSessionParticipants(ctx context.Context, sessionID string) ([]*store.SessionParticipant, error) {
	s, err := t.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.SessionParticipant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
