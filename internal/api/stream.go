package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

// StreamHandler pushes session snapshots and notifications over WebSocket.
type StreamHandler struct {
	*Handler
	hub           *StreamHub
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a new session stream handler.
func NewStreamHandler(base *Handler, hub *StreamHub, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{
		Handler:       base,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client to server frame.
type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := uuid.NewString()
	slog.Info("Session stream request", "stream_id", streamID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "stream_id", streamID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "stream_id", streamID)
		}
	}()

	events := h.hub.Register(streamID, ws)
	defer h.hub.Unregister(streamID, ws)

	updates, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeSnapshot(ctx, ws); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err, "stream_id", streamID)
		return
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, streamID)
	}()

	h.outputLoop(ctx, ws, updates, events, streamID)
	slog.Info("Session stream ended", "stream_id", streamID)
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *StreamHandler) inputLoop(ctx context.Context, ws *websocket.Conn, streamID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "stream_id", streamID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "stream_id", streamID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Ignoring malformed stream message", "stream_id", streamID)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, streamEvent{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "refresh":
			if err := h.writeSnapshot(ctx, ws); err != nil {
				slog.Debug("Failed to send snapshot", "error", err)
			}
		}
	}
}

func (h *StreamHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan domain.Snapshot, events <-chan streamEvent, streamID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			view := h.view(snap)
			if err := h.writeJSON(ctx, ws, streamEvent{Type: "session", Session: &view}); err != nil {
				slog.Debug("Session stream write failed", "error", err, "stream_id", streamID)
				return
			}
		case ev := <-events:
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				slog.Debug("Session stream write failed", "error", err, "stream_id", streamID)
				return
			}
		}
	}
}

func (h *StreamHandler) writeSnapshot(ctx context.Context, ws *websocket.Conn) error {
	view := h.view(h.store.Snapshot())
	return h.writeJSON(ctx, ws, streamEvent{Type: "session", Session: &view})
}

func (h *StreamHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
