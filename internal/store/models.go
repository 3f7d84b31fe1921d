package store

import "time"

// SessionStatus is the lifecycle state of a review session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusArchived  SessionStatus = "archived"
)

// CommentType classifies a top-level comment.
type CommentType string

const (
	CommentGeneral    CommentType = "general"
	CommentSuggestion CommentType = "suggestion"
	CommentQuestion   CommentType = "question"
	CommentIssue      CommentType = "issue"
)

// CursorPosition is a participant's most recent caret location. No history
// is kept; each update overwrites the previous one.
type CursorPosition struct {
	FileName  string    `json:"fileName"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveFile is the file the session is currently looking at. Content and
// language are best-effort: they are filled when the commit is available in
// a local clone and left empty otherwise.
type ActiveFile struct {
	Name     string `json:"name"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// SessionParticipant is one connection's presence record within a session.
// A user with several open connections holds one record per connection.
type SessionParticipant struct {
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	AvatarURL    string          `json:"avatarUrl,omitempty"`
	Color        string          `json:"color"`
	JoinedAt     time.Time       `json:"joinedAt"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	IsActive     bool            `json:"isActive"`
}

// CommentReply is an append-only reply under a top-level comment.
type CommentReply struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LiveComment is a comment anchored to a file and line of the reviewed
// artifact. Update/delete/resolve apply to the top-level comment only.
type LiveComment struct {
	ID         string         `json:"id"`
	AuthorID   string         `json:"authorId"`
	AuthorName string         `json:"authorName"`
	Content    string         `json:"content"`
	FileName   string         `json:"fileName"`
	Line       int            `json:"line"`
	Type       CommentType    `json:"type"`
	Resolved   bool           `json:"resolved"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  *time.Time     `json:"updatedAt,omitempty"`
	Replies    []CommentReply `json:"replies"`
}

// ReviewSession is the root aggregate. Participants are keyed by connection
// id; comments keep insertion order.
type ReviewSession struct {
	ID             string                         `json:"id"`
	CommitSHA      string                         `json:"commitSha"`
	Repository     string                         `json:"repository"`
	CreatedByID    string                         `json:"createdById"`
	CreatedByName  string                         `json:"createdByName"`
	Status         SessionStatus                  `json:"status"`
	CreatedAt      time.Time                      `json:"createdAt"`
	LastActivityAt time.Time                      `json:"lastActivityAt"`
	ActiveFile     *ActiveFile                    `json:"activeFile,omitempty"`
	Participants   map[string]*SessionParticipant `json:"participants"`
	Comments       []*LiveComment                 `json:"comments"`
}

// ActiveParticipantCount counts participants whose connection is still up.
func (s *ReviewSession) ActiveParticipantCount() int {
	count := 0
	for _, p := range s.Participants {
		if p.IsActive {
			count++
		}
	}
	return count
}

// FindComment returns the comment with the given id, or nil.
func (s *ReviewSession) FindComment(commentID string) *LiveComment {
	for _, c := range s.Comments {
		if c.ID == commentID {
			return c
		}
	}
	return nil
}

// Clone deep-copies the aggregate so callers never alias store-owned state.
func (s *ReviewSession) Clone() *ReviewSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.ActiveFile != nil {
		file := *s.ActiveFile
		out.ActiveFile = &file
	}
	out.Participants = make(map[string]*SessionParticipant, len(s.Participants))
	for id, p := range s.Participants {
		participant := *p
		if p.Cursor != nil {
			cursor := *p.Cursor
			participant.Cursor = &cursor
		}
		out.Participants[id] = &participant
	}
	out.Comments = make([]*LiveComment, 0, len(s.Comments))
	for _, c := range s.Comments {
		comment := *c
		if c.UpdatedAt != nil {
			updated := *c.UpdatedAt
			comment.UpdatedAt = &updated
		}
		comment.Replies = append([]CommentReply(nil), c.Replies...)
		out.Comments = append(out.Comments, &comment)
	}
	return &out
}
