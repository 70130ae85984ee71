// Package api provides HTTP handlers for the story refiner API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/story-refiner/internal/config"
	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/flow"
	"github.com/ashureev/story-refiner/internal/issue"
	"github.com/ashureev/story-refiner/internal/notify"
	"github.com/ashureev/story-refiner/internal/session"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	store     *session.Store
	flow      *flow.Controller
	publisher *issue.Publisher
	notes     *notify.Center
	cfg       *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(store *session.Store, ctrl *flow.Controller, publisher *issue.Publisher, notes *notify.Center, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		flow:      ctrl,
		publisher: publisher,
		notes:     notes,
		cfg:       cfg,
	}
}

// SessionView is a snapshot plus the control states derived from it.
type SessionView struct {
	domain.Snapshot
	CanAdvance bool `json:"can_advance"`
	CanGoBack  bool `json:"can_go_back"`
	CanPublish bool `json:"can_publish"`
}

func (h *Handler) view(snap domain.Snapshot) SessionView {
	return SessionView{
		Snapshot:   snap,
		CanAdvance: flow.CanAdvance(snap),
		CanGoBack:  !snap.Loading && flow.CanGoBack(snap.Stage),
		CanPublish: issue.CanPublish(snap, snap.IssueID),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// detached returns a context that survives the client disconnecting, so a
// backend call that was issued always runs to completion.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
