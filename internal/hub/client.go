package hub

import (
	"context"
	"errors"
	"sync"

	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/store"
)

// Client is the per-connection actor. Command methods are invoked by the
// transport as requests arrive; outbound events pass through a buffered
// queue drained by a single writer goroutine, so a slow consumer never
// blocks the session's fan-out.
//
// State machine: Connected → Joined(sessionID), re-entered on every explicit
// session switch, → Disconnected (terminal, via Disconnect).
type Client struct {
	id   string
	conn Conn
	hub  *Hub

	queue chan Event
	done  chan struct{}
	once  sync.Once

	// Identity of the last successful join, carried on user_left events
	// after an abrupt disconnect.
	userID   string
	userName string
}

// ID is the connection identifier, unique per Register call.
func (c *Client) ID() string { return c.id }

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.queue:
			if err := c.conn.Send(event); err != nil {
				// Transient per the error model: the mutation already
				// happened, other recipients are unaffected.
				c.hub.log.Warn().Err(err).Str("connection_id", c.id).
					Str("event", string(event.Type)).Msg("send failed")
			}
		}
	}
}

// enqueue delivers the event to the writer goroutine, dropping it when the
// queue is full. Dropping is safe: a client that falls that far behind
// resynchronizes from the next snapshot.
func (c *Client) enqueue(event Event) {
	select {
	case c.queue <- event:
	default:
		c.hub.log.Warn().Str("connection_id", c.id).
			Str("event", string(event.Type)).Msg("send queue full, event dropped")
	}
}

func (c *Client) sendError(message string) {
	c.enqueue(Event{Type: EventError, Payload: ErrorPayload{Message: message}})
}

// guard keeps engine-layer panics at the gateway boundary: the originator
// gets an error event, the connection and the rest of the group live on.
func (c *Client) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error().Str("connection_id", c.id).Str("op", op).
				Any("panic", r).Msg("recovered panic in gateway operation")
			c.sendError("internal error")
		}
	}()
	fn()
}

// JoinSession authenticates the connection to a session: it registers
// presence, subscribes the connection to the session's broadcast group,
// replies with a full snapshot, and announces the join to everyone else.
// On failure only the caller hears about it and the connection keeps its
// previous state.
func (c *Client) JoinSession(ctx context.Context, sessionID, userID, userName, avatarURL string) {
	c.guard("join_session", func() {
		ok, err := c.hub.presence.JoinSession(ctx, sessionID, &store.SessionParticipant{
			ConnectionID: c.id,
			UserID:       userID,
			UserName:     userName,
			AvatarURL:    avatarURL,
		})
		if err != nil {
			c.hub.log.Error().Err(err).Str("session_id", sessionID).Msg("join failed")
			c.sendError("failed to join session")
			return
		}
		if !ok {
			c.sendError("session not found or no longer active")
			return
		}

		// Explicit session switch: leave the previous group first.
		if previous, joined := c.hub.sessionOf(c.id); joined && previous != sessionID {
			c.LeaveSession(ctx, previous)
		}

		c.userID = userID
		c.userName = userName
		c.hub.subscribe(c, sessionID)

		snapshot, err := c.hub.snapshot(ctx, sessionID)
		if err != nil {
			c.hub.log.Error().Err(err).Str("session_id", sessionID).Msg("snapshot failed")
			c.sendError("failed to load session state")
			return
		}
		c.enqueue(Event{Type: EventSessionState, SessionID: sessionID, Payload: snapshot})

		joinedAs := snapshot.Session.Participants[c.id]
		c.hub.broadcast(sessionID, Event{
			Type:      EventUserJoined,
			SessionID: sessionID,
			Payload:   UserJoinedPayload{Participant: joinedAs},
		}, c.id)
	})
}

// LeaveSession is the graceful counterpart of a disconnect.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) {
	c.guard("leave_session", func() {
		removed, err := c.hub.presence.LeaveSession(ctx, sessionID, c.id)
		if err != nil {
			c.hub.log.Warn().Err(err).Str("session_id", sessionID).Msg("leave failed")
		}
		c.hub.unsubscribe(c, sessionID)
		if removed {
			c.hub.broadcast(sessionID, Event{
				Type:      EventUserLeft,
				SessionID: sessionID,
				Payload:   UserLeftPayload{ConnectionID: c.id, UserID: c.userID, UserName: c.userName},
			}, c.id)
		}
	})
}

func (c *Client) UpdateCursor(ctx context.Context, sessionID, userID string, position store.CursorPosition) {
	c.guard("update_cursor", func() {
		ok, err := c.hub.presence.UpdateCursor(ctx, sessionID, userID, position)
		if err != nil {
			c.sendError("failed to update cursor")
			return
		}
		if !ok {
			c.sendError("not a participant of this session")
			return
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventCursorMoved,
			SessionID: sessionID,
			Payload:   CursorMovedPayload{ConnectionID: c.id, UserID: userID, UserName: c.userName, Position: position},
		}, c.id)
	})
}

func (c *Client) SendComment(ctx context.Context, sessionID string, comment store.LiveComment) {
	c.guard("send_comment", func() {
		stored, err := c.hub.comments.AddComment(ctx, sessionID, comment)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.sendError("session not found")
				return
			}
			c.hub.log.Error().Err(err).Str("session_id", sessionID).Msg("add comment failed")
			c.sendError("failed to add comment")
			return
		}
		// Durable state event: everyone, sender included, sees the
		// server-assigned id.
		c.hub.broadcast(sessionID, Event{
			Type:      EventCommentAdded,
			SessionID: sessionID,
			Payload:   CommentPayload{Comment: stored},
		}, "")
	})
}

func (c *Client) UpdateComment(ctx context.Context, sessionID string, comment store.LiveComment) {
	c.guard("update_comment", func() {
		ok, err := c.hub.comments.UpdateComment(ctx, sessionID, comment)
		if err != nil {
			c.sendError("failed to update comment")
			return
		}
		if !ok {
			c.sendError("comment not found")
			return
		}
		canonical := c.canonicalComment(ctx, sessionID, comment.ID)
		if canonical == nil {
			canonical = &comment
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventCommentUpdated,
			SessionID: sessionID,
			Payload:   CommentPayload{Comment: canonical},
		}, "")
	})
}

func (c *Client) DeleteComment(ctx context.Context, sessionID, commentID string) {
	c.guard("delete_comment", func() {
		ok, err := c.hub.comments.DeleteComment(ctx, sessionID, commentID)
		if err != nil {
			c.sendError("failed to delete comment")
			return
		}
		if !ok {
			c.sendError("comment not found")
			return
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventCommentDeleted,
			SessionID: sessionID,
			Payload:   CommentDeletedPayload{CommentID: commentID},
		}, "")
	})
}

func (c *Client) ResolveComment(ctx context.Context, sessionID, commentID string, isResolved bool) {
	c.guard("resolve_comment", func() {
		ok, err := c.hub.comments.ResolveComment(ctx, sessionID, commentID, isResolved)
		if err != nil {
			c.sendError("failed to resolve comment")
			return
		}
		if !ok {
			c.sendError("comment not found")
			return
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventCommentResolved,
			SessionID: sessionID,
			Payload:   CommentResolvedPayload{CommentID: commentID, Resolved: isResolved},
		}, "")
	})
}

func (c *Client) AddCommentReply(ctx context.Context, sessionID, commentID string, reply store.CommentReply) {
	c.guard("add_comment_reply", func() {
		stored, err := c.hub.comments.AddCommentReply(ctx, sessionID, commentID, reply)
		if err != nil {
			if errors.Is(err, comments.ErrCommentNotFound) || errors.Is(err, store.ErrNotFound) {
				c.sendError("comment not found")
				return
			}
			c.hub.log.Error().Err(err).Str("session_id", sessionID).Msg("add reply failed")
			c.sendError("failed to add reply")
			return
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventCommentReplyAdded,
			SessionID: sessionID,
			Payload:   CommentReplyPayload{CommentID: commentID, Reply: stored},
		}, "")
	})
}

// NotifyTyping is purely ephemeral: activity is refreshed, nothing else is
// stored, and only the other members hear about it.
func (c *Client) NotifyTyping(ctx context.Context, sessionID, userID, fileName string, isTyping bool) {
	c.guard("notify_typing", func() {
		if err := c.hub.sessions.UpdateSessionActivity(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.hub.log.Warn().Err(err).Str("session_id", sessionID).Msg("activity refresh failed")
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventUserTyping,
			SessionID: sessionID,
			Payload:   TypingPayload{UserID: userID, UserName: c.userName, FileName: fileName, IsTyping: isTyping},
		}, c.id)
	})
}

// ChangeFile switches the session's currently active file, pulling content
// and language from the local clone when the commit is available.
func (c *Client) ChangeFile(ctx context.Context, sessionID, userID, fileName string) {
	c.guard("change_file", func() {
		file := store.ActiveFile{Name: fileName}
		err := c.hub.sessions.Mutate(ctx, sessionID, func(s *store.ReviewSession) error {
			if c.hub.files != nil {
				loaded, err := c.hub.files.LoadFileAt(s.Repository, s.CommitSHA, fileName)
				if err == nil {
					file = loaded
				} else {
					c.hub.log.Debug().Err(err).Str("file", fileName).Msg("active file content unavailable")
				}
			}
			s.ActiveFile = &file
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			c.sendError("session not found")
			return
		}
		if err != nil {
			c.sendError("failed to change file")
			return
		}
		c.hub.broadcast(sessionID, Event{
			Type:      EventUserChangedFile,
			SessionID: sessionID,
			Payload:   FileChangedPayload{UserID: userID, File: file},
		}, c.id)
	})
}

// Disconnect is terminal: it stops the writer and reconciles presence for
// an abrupt connection loss. Safe to call more than once.
func (c *Client) Disconnect(ctx context.Context) {
	c.once.Do(func() {
		close(c.done)
		c.hub.handleDisconnect(ctx, c)
	})
}

func (c *Client) canonicalComment(ctx context.Context, sessionID, commentID string) *store.LiveComment {
	s, err := c.hub.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}
	return s.FindComment(commentID)
}
