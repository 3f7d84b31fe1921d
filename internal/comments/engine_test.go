package comments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	m := session.NewManager(store.NewMemoryStore(), 30*time.Minute)
	s, err := m.CreateSession(context.Background(), "abc123", "org/repo", "u1", "Alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return NewEngine(m), s.ID
}

func TestAddCommentAssignsIDAndTimestamp(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()
	before := time.Now().UTC()

	stored, err := e.AddComment(ctx, sessionID, store.LiveComment{
		AuthorID:   "u1",
		AuthorName: "Alice",
		Content:    "why null-check?",
		FileName:   "a.cs",
		Line:       10,
	})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if stored.ID == "" || !strings.HasPrefix(stored.ID, "cmt_") {
		t.Errorf("expected server-assigned id, got %q", stored.ID)
	}
	if stored.CreatedAt.Before(before) {
		t.Errorf("creation timestamp %v precedes call time %v", stored.CreatedAt, before)
	}
	if stored.Type != store.CommentGeneral {
		t.Errorf("expected default type general, got %s", stored.Type)
	}

	list, err := e.GetSessionComments(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSessionComments failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != stored.ID {
		t.Errorf("comment not stored: %+v", list)
	}
}

func TestCommentsKeepInsertionOrder(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		if _, err := e.AddComment(ctx, sessionID, store.LiveComment{Content: content, FileName: "a.cs", Line: 1}); err != nil {
			t.Fatalf("AddComment failed: %v", err)
		}
	}

	list, _ := e.GetSessionComments(ctx, sessionID)
	if len(list) != 3 || list[0].Content != "first" || list[2].Content != "third" {
		t.Errorf("insertion order lost: %+v", list)
	}
}

func TestUpdateComment(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	stored, _ := e.AddComment(ctx, sessionID, store.LiveComment{Content: "old", FileName: "a.cs", Line: 10})

	ok, err := e.UpdateComment(ctx, sessionID, store.LiveComment{ID: stored.ID, Content: "new", FileName: "b.cs", Line: 20})
	if err != nil || !ok {
		t.Fatalf("UpdateComment = %v, %v", ok, err)
	}

	list, _ := e.GetSessionComments(ctx, sessionID)
	got := list[0]
	if got.Content != "new" || got.FileName != "b.cs" || got.Line != 20 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.UpdatedAt == nil {
		t.Error("update must stamp UpdatedAt")
	}
	if got.Resolved {
		t.Error("update must not touch the resolved flag")
	}

	ok, err = e.UpdateComment(ctx, sessionID, store.LiveComment{ID: "missing", Content: "x"})
	if err != nil {
		t.Fatalf("UpdateComment failed: %v", err)
	}
	if ok {
		t.Error("updating a missing comment should report false")
	}
}

func TestDeleteComment(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	stored, _ := e.AddComment(ctx, sessionID, store.LiveComment{Content: "doomed", FileName: "a.cs", Line: 1})

	ok, err := e.DeleteComment(ctx, sessionID, stored.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteComment = %v, %v", ok, err)
	}
	list, _ := e.GetSessionComments(ctx, sessionID)
	if len(list) != 0 {
		t.Errorf("comment not deleted: %+v", list)
	}

	ok, err = e.DeleteComment(ctx, sessionID, stored.ID)
	if err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	if ok {
		t.Error("deleting a missing comment should report false")
	}
}

func TestResolveCommentIsIdempotent(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	stored, _ := e.AddComment(ctx, sessionID, store.LiveComment{Content: "resolve me", FileName: "a.cs", Line: 1})

	for i := 0; i < 2; i++ {
		ok, err := e.ResolveComment(ctx, sessionID, stored.ID, true)
		if err != nil {
			t.Fatalf("ResolveComment #%d failed: %v", i+1, err)
		}
		if !ok {
			t.Errorf("ResolveComment #%d = false, want true", i+1)
		}
	}
	list, _ := e.GetSessionComments(ctx, sessionID)
	if !list[0].Resolved {
		t.Error("comment should be resolved")
	}

	// And back.
	if ok, err := e.ResolveComment(ctx, sessionID, stored.ID, false); err != nil || !ok {
		t.Fatalf("unresolve = %v, %v", ok, err)
	}
	list, _ = e.GetSessionComments(ctx, sessionID)
	if list[0].Resolved {
		t.Error("comment should be unresolved")
	}

	ok, err := e.ResolveComment(ctx, sessionID, "missing", true)
	if err != nil {
		t.Fatalf("ResolveComment failed: %v", err)
	}
	if ok {
		t.Error("resolving a missing comment should report false")
	}
}

func TestAddCommentReply(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	stored, _ := e.AddComment(ctx, sessionID, store.LiveComment{Content: "parent", FileName: "a.cs", Line: 1})

	reply, err := e.AddCommentReply(ctx, sessionID, stored.ID, store.CommentReply{AuthorID: "u2", AuthorName: "Bob", Content: "because"})
	if err != nil {
		t.Fatalf("AddCommentReply failed: %v", err)
	}
	if reply.ID == "" || reply.CreatedAt.IsZero() {
		t.Errorf("reply missing server-assigned fields: %+v", reply)
	}

	list, _ := e.GetSessionComments(ctx, sessionID)
	if len(list[0].Replies) != 1 || list[0].Replies[0].Content != "because" {
		t.Errorf("reply not appended: %+v", list[0].Replies)
	}
}

func TestAddCommentReplyToMissingCommentFails(t *testing.T) {
	e, sessionID := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.AddComment(ctx, sessionID, store.LiveComment{Content: "unrelated", FileName: "a.cs", Line: 1}); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}

	_, err := e.AddCommentReply(ctx, sessionID, "missing", store.CommentReply{Content: "orphan"})
	if !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}

	// The failed reply must not mutate the comment list.
	list, _ := e.GetSessionComments(ctx, sessionID)
	if len(list) != 1 || len(list[0].Replies) != 0 {
		t.Errorf("failed reply mutated state: %+v", list)
	}
}
