package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testSession(id, sha, repo string) *ReviewSession {
	now := time.Now().UTC()
	return &ReviewSession{
		ID:             id,
		CommitSHA:      sha,
		Repository:     repo,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   make(map[string]*SessionParticipant),
		Comments:       []*LiveComment{},
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutSession(ctx, testSession("sess-1", "abc123", "org/repo")); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.CommitSHA != "abc123" || got.Repository != "org/repo" {
		t.Errorf("unexpected session: %+v", got)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreIsolatesAggregates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	session := testSession("sess-1", "abc123", "org/repo")
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	session.Participants["conn-1"] = &SessionParticipant{ConnectionID: "conn-1", UserID: "u1"}
	session.Comments = append(session.Comments, &LiveComment{ID: "cmt-1"})

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.Participants) != 0 || len(got.Comments) != 0 {
		t.Errorf("store aliased caller state: %+v", got)
	}

	// Mutating a read copy must not change the next read.
	got.Status = StatusArchived
	again, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if again.Status != StatusActive {
		t.Errorf("read copy aliased store state: status=%s", again.Status)
	}
}

func TestMemoryStoreFindActiveByCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	active := testSession("sess-1", "abc123", "org/repo")
	if err := s.PutSession(ctx, active); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := s.FindActiveByCommit(ctx, "abc123", "org/repo")
	if err != nil {
		t.Fatalf("FindActiveByCommit failed: %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("expected sess-1, got %s", got.ID)
	}

	// Archived sessions never match.
	active.Status = StatusArchived
	if err := s.PutSession(ctx, active); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	if _, err := s.FindActiveByCommit(ctx, "abc123", "org/repo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for archived session, got %v", err)
	}

	if _, err := s.FindActiveByCommit(ctx, "abc123", "other/repo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other repo, got %v", err)
	}
}

func TestMemoryStoreListSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := s.PutSession(ctx, testSession(id, "sha-"+id, "org/repo")); err != nil {
			t.Fatalf("PutSession failed: %v", err)
		}
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(sessions))
	}
}
