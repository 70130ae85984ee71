package api

import (
	"log/slog"
	"sync"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/coder/websocket"
)

// clientBuffer is how many broadcast events a slow client may lag behind
// before events are dropped for it.
const clientBuffer = 16

// streamEvent is one frame on the session stream.
type streamEvent struct {
	Type         string               `json:"type"`
	Session      *SessionView         `json:"session,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type streamClient struct {
	conn   *websocket.Conn
	events chan streamEvent
}

// StreamHub manages active session stream connections.
type StreamHub struct {
	mu     sync.RWMutex
	active map[string]*streamClient
}

// NewStreamHub creates a new stream hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		active: make(map[string]*streamClient),
	}
}

// Count returns the number of connected clients.
func (m *StreamHub) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register adds a connection under a fresh stream id and returns the channel
// its broadcast events arrive on.
func (m *StreamHub) Register(id string, conn *websocket.Conn) <-chan streamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	client := &streamClient{conn: conn, events: make(chan streamEvent, clientBuffer)}
	m.active[id] = client
	slog.Info("Session stream registered", "stream_id", id)
	return client.events
}

// Unregister removes a connection if it is still the one registered for id.
func (m *StreamHub) Unregister(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[id]; exists && current.conn == conn {
		delete(m.active, id)
		slog.Info("Session stream unregistered", "stream_id", id)
	}
}

// Notify broadcasts a notification to every connected client.
func (m *StreamHub) Notify(n domain.Notification) {
	m.broadcast(streamEvent{Type: "notification", Notification: &n})
}

func (m *StreamHub) broadcast(ev streamEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.active {
		select {
		case c.events <- ev:
		default:
			slog.Warn("Session stream lagging, dropping event", "stream_id", id, "type", ev.Type)
		}
	}
}

// CloseAll terminates every active connection.
func (m *StreamHub) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.active {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Session stream closed", "stream_id", id)
	}
	clear(m.active)
}
