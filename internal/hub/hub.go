// Package hub is the real-time front end of the review engine: it owns the
// per-connection actors, the per-session broadcast groups, and the fan-out
// of domain events. The hub never holds authoritative session state; its
// conn→session index is a derived cache for O(1) disconnect cleanup,
// rebuilt from the store on every join and leave.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/presence"
	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
	"reviewhub/api/internal/util"
)

// Conn is the transport side of one client connection. Send must be safe
// for use from the connection's writer goroutine only.
type Conn interface {
	Send(event Event) error
}

// FileLoader resolves the content of a file at a session's commit.
// Implementations are best-effort; the hub degrades to a name-only active
// file on any error.
type FileLoader interface {
	LoadFileAt(repository, commitSHA, fileName string) (store.ActiveFile, error)
}

type Hub struct {
	sessions *session.Manager
	presence *presence.Tracker
	comments *comments.Engine
	files    FileLoader
	log      zerolog.Logger

	queueSize int

	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
	// index maps connection id to session id. Derived cache only: the
	// store stays the source of truth for membership.
	index map[string]string
}

func New(sessions *session.Manager, tracker *presence.Tracker, engine *comments.Engine, files FileLoader, queueSize int, log zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		sessions:  sessions,
		presence:  tracker,
		comments:  engine,
		files:     files,
		log:       log,
		queueSize: queueSize,
		clients:   make(map[string]*Client),
		groups:    make(map[string]map[string]*Client),
		index:     make(map[string]string),
	}
}

// Register creates the connection actor for conn and starts its writer.
func (h *Hub) Register(conn Conn) *Client {
	client := &Client{
		id:    util.NewID("conn"),
		conn:  conn,
		hub:   h,
		queue: make(chan Event, h.queueSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go client.writeLoop()
	client.enqueue(Event{Type: EventConnected, Payload: ConnectedPayload{ConnectionID: client.id}})
	return client
}

func (h *Hub) subscribe(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[sessionID]
	if !ok {
		group = make(map[string]*Client)
		h.groups[sessionID] = group
	}
	group[client.id] = client
	h.index[client.id] = sessionID
}

func (h *Hub) unsubscribe(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if group, ok := h.groups[sessionID]; ok {
		delete(group, client.id)
		if len(group) == 0 {
			delete(h.groups, sessionID)
		}
	}
	if h.index[client.id] == sessionID {
		delete(h.index, client.id)
	}
}

// Client returns the registered actor for a connection id.
func (h *Hub) Client(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connectionID]
	return client, ok
}

// sessionOf consults the derived index.
func (h *Hub) sessionOf(connectionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessionID, ok := h.index[connectionID]
	return sessionID, ok
}

// broadcast fans an event out to the session's group. excludeConnID skips
// the originator for presence-style events; pass "" to reach everyone.
// Group membership is captured under the lock, but delivery happens
// outside it: enqueueing never blocks on a slow consumer.
func (h *Hub) broadcast(sessionID string, event Event, excludeConnID string) {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.groups[sessionID]))
	for id, client := range h.groups[sessionID] {
		if id == excludeConnID {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		client.enqueue(event)
	}
}

// handleDisconnect reconciles an abrupt connection loss: the store scan in
// OnConnectionDropped is authoritative, and every session the connection
// was found in gets a user_left broadcast.
func (h *Hub) handleDisconnect(ctx context.Context, client *Client) {
	left, err := h.presence.OnConnectionDropped(ctx, client.id)
	if err != nil {
		h.log.Warn().Err(err).Str("connection_id", client.id).
			Msg("disconnect cleanup incomplete, reaper will converge")
	}

	// The derived index may know a session the scan missed (e.g. the
	// session was archived mid-flight); drop the subscription either way.
	if sessionID, ok := h.sessionOf(client.id); ok {
		found := false
		for _, id := range left {
			if id == sessionID {
				found = true
			}
		}
		if !found {
			left = append(left, sessionID)
		}
	}

	for _, sessionID := range left {
		h.unsubscribe(client, sessionID)
		h.broadcast(sessionID, Event{
			Type:      EventUserLeft,
			SessionID: sessionID,
			Payload:   UserLeftPayload{ConnectionID: client.id, UserID: client.userID, UserName: client.userName},
		}, client.id)
	}

	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
}

// snapshot assembles the full current state of a session for a joining
// connection.
func (h *Hub) snapshot(ctx context.Context, sessionID string) (*SnapshotPayload, error) {
	s, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	participants := make([]*store.SessionParticipant, 0, len(s.Participants))
	cursors := make([]*store.SessionParticipant, 0)
	for _, p := range s.Participants {
		if !p.IsActive {
			continue
		}
		participants = append(participants, p)
		if p.Cursor != nil {
			cursors = append(cursors, p)
		}
	}

	return &SnapshotPayload{
		Session:      s,
		Participants: participants,
		Comments:     s.Comments,
		Cursors:      cursors,
	}, nil
}
