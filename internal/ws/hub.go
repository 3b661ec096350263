// Package ws fans enriched incidents out to connected dashboard sessions.
// Delivery is best effort: a session that fails a write is dropped. A new
// session receives the current cache snapshot before any live update, so
// it never observes state older than connect time.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alertdeck/alertdeck/internal/metrics"
	"github.com/alertdeck/alertdeck/internal/models"
)

const defaultWriteTimeout = 5 * time.Second

// SnapshotFunc supplies the full-state message sent to a session on connect.
type SnapshotFunc func() Message

// Session is one authenticated realtime dashboard connection. It holds no
// incident data; it is only a sink endpoint.
type Session struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) write(msg Message, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(msg)
}

// Hub tracks the connected session set and broadcasts to all of it.
type Hub struct {
	logger       *slog.Logger
	snapshot     SnapshotFunc
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewHub constructs a hub; snapshot may be nil when no snapshot-on-connect
// is wanted (tests).
func NewHub(logger *slog.Logger, snapshot SnapshotFunc) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:       logger,
		snapshot:     snapshot,
		writeTimeout: defaultWriteTimeout,
		sessions:     make(map[*Session]struct{}),
	}
}

// Register adopts an upgraded connection, sends the snapshot under the hub
// lock (so no broadcast can interleave before it), and returns the session.
// A failed snapshot write closes the connection and returns nil.
func (h *Hub) Register(conn *websocket.Conn) *Session {
	session := &Session{ID: uuid.New().String(), conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.snapshot != nil {
		if err := session.write(h.snapshot(), h.writeTimeout); err != nil {
			h.logger.Warn("snapshot write failed, dropping session",
				slog.String("session", session.ID), slog.Any("error", err))
			_ = conn.Close()
			return nil
		}
	}

	h.sessions[session] = struct{}{}
	metrics.SessionConnected()
	h.logger.Info("dashboard session connected",
		slog.String("session", session.ID), slog.Int("sessions", len(h.sessions)))
	return session
}

// Unregister removes a session and closes its connection. Safe to call for
// sessions already removed by a failed broadcast.
func (h *Hub) Unregister(session *Session) {
	if session == nil {
		return
	}
	h.mu.Lock()
	_, present := h.sessions[session]
	delete(h.sessions, session)
	h.mu.Unlock()

	if present {
		metrics.SessionDisconnected()
		h.logger.Info("dashboard session disconnected", slog.String("session", session.ID))
	}
	_ = session.conn.Close()
}

// Broadcast pushes one message to every connected session. Sessions whose
// write fails are dropped; membership is stable for the whole fan-out.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for session := range h.sessions {
		if err := session.write(msg, h.writeTimeout); err != nil {
			h.logger.Warn("broadcast write failed, dropping session",
				slog.String("session", session.ID), slog.Any("error", err))
			delete(h.sessions, session)
			metrics.SessionDisconnected()
			_ = session.conn.Close()
		}
	}
}

// BroadcastIncident pushes a live enrichment update to every session.
// The caller guarantees the cache already holds the result, so a client
// can always query what it was just pushed.
func (h *Hub) BroadcastIncident(inc models.Incident, res models.EnrichmentResult) {
	h.Broadcast(IncidentMessage(inc, res, models.StateEnriched))
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close drops every session, typically during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for session := range h.sessions {
		_ = session.conn.Close()
		delete(h.sessions, session)
		metrics.SessionDisconnected()
	}
}
