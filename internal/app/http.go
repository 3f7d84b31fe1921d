package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/hub"
	"reviewhub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	hub        *hub.Hub
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, h *hub.Hub, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, hub: h, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"checks": map[string]any{"store": map[string]any{"status": "error", "error": err.Error()}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"status": "ready",
			"checks": map[string]any{"store": map[string]any{"status": "ok"}},
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stream" {
		s.handleStream(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/rt" {
		s.handleRealtimeCommand(w, r)
		return
	}

	if r.URL.Path == "/api/sessions" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateSession(w, r)
		case http.MethodGet:
			s.handleListSessions(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sessions/by-commit" {
		commitSHA := strings.TrimSpace(r.URL.Query().Get("commitSha"))
		repository := strings.TrimSpace(r.URL.Query().Get("repository"))
		session, err := s.service.GetSessionByCommit(r.Context(), commitSHA, repository)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions/cleanup" {
		archived, err := s.service.Cleanup(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"archived": archived})
		return
	}

	if parts := splitPath(r.URL.Path); len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSessionSubresource(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSessionSubresource(w http.ResponseWriter, r *http.Request, parts []string) {
	sessionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		session, err := s.service.GetSession(r.Context(), sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "archive" && r.Method == http.MethodPost:
		ok, err := s.service.ArchiveSession(r.Context(), sessionID)
		s.writeStatusChange(w, ok, err)
	case len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPost:
		ok, err := s.service.CompleteSession(r.Context(), sessionID)
		s.writeStatusChange(w, ok, err)
	case len(parts) == 2 && parts[1] == "comments" && r.Method == http.MethodGet:
		list, err := s.service.SessionComments(r.Context(), sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": list})
	case len(parts) == 2 && parts[1] == "participants" && r.Method == http.MethodGet:
		list, err := s.service.SessionParticipants(r.Context(), sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"participants": list})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) writeStatusChange(w http.ResponseWriter, ok bool, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.CreateSession(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	repository := strings.TrimSpace(r.URL.Query().Get("repository"))
	sessions, err := s.service.ListActiveSessions(r.Context(), repository)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleStream is the server→client half of the realtime transport: a
// Server-Sent Events stream carrying the hub's fan-out. The first frame is
// a connected event with the server-assigned connection id; commands
// reference it via POST /api/rt. Closing the request tears the connection
// down through the abrupt-disconnect path.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.hub.Register(&sseConn{w: w, flusher: flusher})

	// Optional auto-join, so a client can open the stream and land in a
	// session with one request.
	if sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId")); sessionID != "" {
		client.JoinSession(r.Context(), sessionID,
			strings.TrimSpace(r.URL.Query().Get("userId")),
			strings.TrimSpace(r.URL.Query().Get("userName")),
			strings.TrimSpace(r.URL.Query().Get("avatarUrl")),
		)
	}

	<-r.Context().Done()
	client.Disconnect(context.Background())
}

type realtimeCommand struct {
	ConnectionID string                `json:"connectionId"`
	Op           string                `json:"op"`
	SessionID    string                `json:"sessionId"`
	UserID       string                `json:"userId"`
	UserName     string                `json:"userName"`
	AvatarURL    string                `json:"avatarUrl"`
	FileName     string                `json:"fileName"`
	IsTyping     bool                  `json:"isTyping"`
	Resolved     bool                  `json:"resolved"`
	CommentID    string                `json:"commentId"`
	Position     *store.CursorPosition `json:"position"`
	Comment      *store.LiveComment    `json:"comment"`
	Reply        *store.CommentReply   `json:"reply"`
}

// handleRealtimeCommand is the client→server half: it dispatches one
// realtime operation on the caller's connection actor. Engine-level failures travel
// back over the stream as error events, so this endpoint only rejects
// malformed requests.
func (s *HTTPServer) handleRealtimeCommand(w http.ResponseWriter, r *http.Request) {
	var cmd realtimeCommand
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	client, ok := s.hub.Client(cmd.ConnectionID)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "Unknown connection id", nil)
		return
	}

	ctx := r.Context()
	switch cmd.Op {
	case "join_session":
		client.JoinSession(ctx, cmd.SessionID, cmd.UserID, cmd.UserName, cmd.AvatarURL)
	case "leave_session":
		client.LeaveSession(ctx, cmd.SessionID)
	case "update_cursor":
		if cmd.Position == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "position is required", nil)
			return
		}
		client.UpdateCursor(ctx, cmd.SessionID, cmd.UserID, *cmd.Position)
	case "send_comment":
		if cmd.Comment == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment is required", nil)
			return
		}
		client.SendComment(ctx, cmd.SessionID, *cmd.Comment)
	case "update_comment":
		if cmd.Comment == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment is required", nil)
			return
		}
		client.UpdateComment(ctx, cmd.SessionID, *cmd.Comment)
	case "delete_comment":
		client.DeleteComment(ctx, cmd.SessionID, cmd.CommentID)
	case "resolve_comment":
		client.ResolveComment(ctx, cmd.SessionID, cmd.CommentID, cmd.Resolved)
	case "add_comment_reply":
		if cmd.Reply == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reply is required", nil)
			return
		}
		client.AddCommentReply(ctx, cmd.SessionID, cmd.CommentID, *cmd.Reply)
	case "notify_typing":
		client.NotifyTyping(ctx, cmd.SessionID, cmd.UserID, cmd.FileName, cmd.IsTyping)
	case "change_file":
		client.ChangeFile(ctx, cmd.SessionID, cmd.UserID, cmd.FileName)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown op %q", cmd.Op), nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// sseConn adapts an open SSE response to the hub's Conn interface.
type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (c *sseConn) Send(event hub.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	c.flusher.Flush()
	return nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the middleware wrapper.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Session not found", nil
	}
	if errors.Is(err, comments.ErrCommentNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Comment not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
