package hub

import "reviewhub/api/internal/store"

// EventType names a server→client event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventSessionState      EventType = "session_state"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventCursorMoved       EventType = "cursor_moved"
	EventCommentAdded      EventType = "comment_added"
	EventCommentUpdated    EventType = "comment_updated"
	EventCommentDeleted    EventType = "comment_deleted"
	EventCommentResolved   EventType = "comment_resolved"
	EventCommentReplyAdded EventType = "comment_reply_added"
	EventUserTyping        EventType = "user_typing"
	EventUserChangedFile   EventType = "user_changed_file"
	EventError             EventType = "error"
)

// Event is the unit of fan-out to subscribed connections.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// SnapshotPayload is the full session state sent to a joining connection in
// lieu of event replay.
type SnapshotPayload struct {
	Session      *store.ReviewSession        `json:"session"`
	Participants []*store.SessionParticipant `json:"participants"`
	Comments     []*store.LiveComment        `json:"comments"`
	Cursors      []*store.SessionParticipant `json:"cursors"`
}

type UserJoinedPayload struct {
	Participant *store.SessionParticipant `json:"participant"`
}

type UserLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	UserName     string `json:"userName,omitempty"`
}

type CursorMovedPayload struct {
	ConnectionID string               `json:"connectionId"`
	UserID       string               `json:"userId"`
	UserName     string               `json:"userName,omitempty"`
	Position     store.CursorPosition `json:"position"`
}

type CommentPayload struct {
	Comment *store.LiveComment `json:"comment"`
}

type CommentDeletedPayload struct {
	CommentID string `json:"commentId"`
}

type CommentResolvedPayload struct {
	CommentID string `json:"commentId"`
	Resolved  bool   `json:"resolved"`
}

type CommentReplyPayload struct {
	CommentID string              `json:"commentId"`
	Reply     *store.CommentReply `json:"reply"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	FileName string `json:"fileName"`
	IsTyping bool   `json:"isTyping"`
}

type FileChangedPayload struct {
	UserID string           `json:"userId"`
	File   store.ActiveFile `json:"file"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
