package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/hub"
	"reviewhub/api/internal/presence"
	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
)

type testEnv struct {
	server   *httptest.Server
	sessions *session.Manager
	presence *presence.Tracker
	hub      *hub.Hub
}

func newTestEnv(t *testing.T, idleThreshold time.Duration) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	manager := session.NewManager(st, idleThreshold)
	tracker := presence.NewTracker(manager)
	engine := comments.NewEngine(manager)
	h := hub.New(manager, tracker, engine, nil, 64, zerolog.Nop())
	service := New(manager, tracker, engine, st)

	server := httptest.NewServer(NewHTTPServer(service, h, "*", zerolog.Nop()).Handler())
	t.Cleanup(server.Close)
	return &testEnv{server: server, sessions: manager, presence: tracker, hub: h}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) createSession(t *testing.T, commitSHA, repository string) *store.ReviewSession {
	t.Helper()
	resp := e.post(t, "/api/sessions", CreateSessionInput{
		CommitSHA: commitSHA, Repository: repository, UserID: "u1", UserName: "Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create session returned %d", resp.StatusCode)
	}
	s := decode[*store.ReviewSession](t, resp)
	return s
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)

	resp := env.get(t, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.get(t, "/api/ready")
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Errorf("ready returned %d %v", resp.StatusCode, body)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)

	resp := env.post(t, "/api/sessions", CreateSessionInput{Repository: "org/repo"})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected validation error, got %d %v", resp.StatusCode, body)
	}
}

func TestCreateSessionIsIdempotentPerCommit(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)

	first := env.createSession(t, "abc123", "org/repo")
	second := env.createSession(t, "abc123", "org/repo")
	if first.ID != second.ID {
		t.Errorf("expected the same session, got %s and %s", first.ID, second.ID)
	}
	if first.ID == "" || first.Status != store.StatusActive {
		t.Errorf("unexpected session: %+v", first)
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	created := env.createSession(t, "abc123", "org/repo")

	resp := env.get(t, "/api/sessions/"+created.ID)
	got := decode[*store.ReviewSession](t, resp)
	if got.ID != created.ID || got.CommitSHA != "abc123" {
		t.Errorf("unexpected session: %+v", got)
	}

	resp = env.get(t, "/api/sessions/sess_missing")
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("expected 404, got %d %v", resp.StatusCode, body)
	}
}

func TestGetSessionByCommit(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	created := env.createSession(t, "abc123", "org/repo")

	resp := env.get(t, "/api/sessions/by-commit?commitSha=abc123&repository=org%2Frepo")
	got := decode[*store.ReviewSession](t, resp)
	if got.ID != created.ID {
		t.Errorf("unexpected session: %+v", got)
	}

	resp = env.get(t, "/api/sessions/by-commit?commitSha=abc123")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for missing repository, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListSessionsFiltersByRepository(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	env.createSession(t, "abc123", "org/repo")
	env.createSession(t, "def456", "org/other")

	resp := env.get(t, "/api/sessions")
	all := decode[map[string][]*store.ReviewSession](t, resp)
	if len(all["sessions"]) != 2 {
		t.Errorf("expected 2 sessions, got %+v", all["sessions"])
	}

	resp = env.get(t, "/api/sessions?repository=org%2Fother")
	filtered := decode[map[string][]*store.ReviewSession](t, resp)
	if len(filtered["sessions"]) != 1 || filtered["sessions"][0].CommitSHA != "def456" {
		t.Errorf("unexpected filtered listing: %+v", filtered["sessions"])
	}
}

func TestArchiveAndCompleteSession(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	created := env.createSession(t, "abc123", "org/repo")

	resp := env.post(t, "/api/sessions/"+created.ID+"/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("archive returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Archiving again is a no-op but still succeeds.
	resp = env.post(t, "/api/sessions/"+created.ID+"/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second archive returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.post(t, "/api/sessions/sess_missing/archive", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("archive of missing session returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	other := env.createSession(t, "def456", "org/repo")
	resp = env.post(t, "/api/sessions/"+other.ID+"/complete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("complete returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.get(t, "/api/sessions/"+other.ID)
	got := decode[*store.ReviewSession](t, resp)
	if got.Status != store.StatusCompleted {
		t.Errorf("expected completed status, got %s", got.Status)
	}
}

func TestCleanupArchivesIdleSessions(t *testing.T) {
	env := newTestEnv(t, time.Millisecond)
	created := env.createSession(t, "abc123", "org/repo")
	time.Sleep(10 * time.Millisecond)

	resp := env.post(t, "/api/sessions/cleanup", nil)
	body := decode[map[string]int](t, resp)
	if body["archived"] != 1 {
		t.Errorf("expected 1 archived session, got %d", body["archived"])
	}

	resp = env.get(t, "/api/sessions/"+created.ID)
	got := decode[*store.ReviewSession](t, resp)
	if got.Status != store.StatusArchived {
		t.Errorf("expected archived status, got %s", got.Status)
	}
}

func TestRealtimeCommandRejectsUnknownConnection(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)

	resp := env.post(t, "/api/rt", map[string]any{"connectionId": "conn_missing", "op": "leave_session"})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "UNKNOWN_CONNECTION" {
		t.Errorf("expected unknown-connection error, got %d %v", resp.StatusCode, body)
	}
}

// sseEvent mirrors the wire shape of hub.Event with an undecoded payload.
type sseEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

type sseReader struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func openStream(t *testing.T, env *testEnv, query string) *sseReader {
	t.Helper()
	resp, err := http.Get(env.server.URL + "/api/stream" + query)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return &sseReader{resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

// next reads frames until one of the wanted type arrives, skipping
// interleaved events from other participants.
func (r *sseReader) next(t *testing.T, eventType string) sseEvent {
	t.Helper()
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("stream ended while waiting for %s: %v", eventType, r.scanner.Err())
	return sseEvent{}
}

func TestStreamCarriesRealtimeTraffic(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	created := env.createSession(t, "abc123", "org/repo")

	stream := openStream(t, env, fmt.Sprintf("?sessionId=%s&userId=u1&userName=Alice", created.ID))

	connected := stream.next(t, "connected")
	var hello struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(connected.Payload, &hello); err != nil || hello.ConnectionID == "" {
		t.Fatalf("bad connected payload %s: %v", connected.Payload, err)
	}

	state := stream.next(t, "session_state")
	var snapshot struct {
		Participants []store.SessionParticipant `json:"participants"`
	}
	if err := json.Unmarshal(state.Payload, &snapshot); err != nil || len(snapshot.Participants) != 1 {
		t.Fatalf("bad snapshot payload %s: %v", state.Payload, err)
	}

	resp := env.post(t, "/api/rt", map[string]any{
		"connectionId": hello.ConnectionID,
		"op":           "send_comment",
		"sessionId":    created.ID,
		"comment": map[string]any{
			"authorId": "u1", "authorName": "Alice",
			"content": "looks off", "fileName": "a.cs", "line": 10,
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("rt command returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	added := stream.next(t, "comment_added")
	var payload struct {
		Comment store.LiveComment `json:"comment"`
	}
	if err := json.Unmarshal(added.Payload, &payload); err != nil {
		t.Fatalf("bad comment payload %s: %v", added.Payload, err)
	}
	if payload.Comment.ID == "" || payload.Comment.Content != "looks off" {
		t.Errorf("unexpected comment: %+v", payload.Comment)
	}
}

func TestStreamDisconnectClearsPresence(t *testing.T) {
	env := newTestEnv(t, 30*time.Minute)
	created := env.createSession(t, "abc123", "org/repo")

	stream := openStream(t, env, fmt.Sprintf("?sessionId=%s&userId=u1&userName=Alice", created.ID))
	stream.next(t, "session_state")

	resp := env.get(t, "/api/sessions/"+created.ID+"/participants")
	listing := decode[map[string][]*store.SessionParticipant](t, resp)
	if len(listing["participants"]) != 1 {
		t.Fatalf("expected 1 participant, got %+v", listing["participants"])
	}

	stream.resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := env.get(t, "/api/sessions/"+created.ID+"/participants")
		listing := decode[map[string][]*store.SessionParticipant](t, resp)
		if len(listing["participants"]) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("participant not removed after disconnect: %+v", listing["participants"])
		}
		time.Sleep(10 * time.Millisecond)
	}
}
