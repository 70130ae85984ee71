package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/story-refiner/internal/flow"
	"github.com/ashureev/story-refiner/internal/issue"
	"github.com/go-chi/chi/v5"
)

// WorkflowHandler handles the refinement workflow endpoints.
type WorkflowHandler struct {
	*Handler
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(base *Handler) *WorkflowHandler {
	return &WorkflowHandler{Handler: base}
}

// RegisterRoutes registers workflow routes.
func (h *WorkflowHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Post("/feedback", h.SubmitFeedback)
		r.Post("/advance", h.Advance)
		r.Post("/back", h.GoBack)
		r.Post("/reset", h.Reset)
		r.Get("/previous-story", h.PreviousStory)
		r.Put("/review-modal", h.SetReviewModal)
		r.Post("/issue", h.PublishIssue)
		r.Post("/issue/import", h.ImportIssue)
		r.Get("/notifications", h.ListNotifications)
		r.Delete("/notifications/{id}", h.DismissNotification)
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *WorkflowHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"issue_title":         h.cfg.IssueTitle,
		"notification_ttl_ms": h.cfg.NotificationTTL.Milliseconds(),
		"snapshot_enabled":    h.cfg.Snapshot.Enabled,
	})
}

// GetSession returns the current session state.
func (h *WorkflowHandler) GetSession(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.view(h.store.Snapshot()))
}

type feedbackRequest struct {
	Text string `json:"text"`
}

// SubmitFeedback sends user input to the backend for the current stage.
func (h *WorkflowHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.flow.SubmitFeedback(detached(r), req.Text); err != nil {
		switch {
		case errors.Is(err, flow.ErrBlankFeedback):
			Error(w, http.StatusBadRequest, "feedback_blank")
		case errors.Is(err, flow.ErrWorkflowFinished):
			Error(w, http.StatusUnprocessableEntity, "workflow_finished")
		case errors.Is(err, flow.ErrBusy):
			Error(w, http.StatusConflict, "request_in_progress")
		default:
			slog.Warn("Feedback submission failed", "stage", string(h.store.Stage()), "error", err)
			Error(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	JSON(w, http.StatusOK, h.view(h.store.Snapshot()))
}

// Advance moves to the next stage when allowed.
func (h *WorkflowHandler) Advance(w http.ResponseWriter, _ *http.Request) {
	applied := h.flow.Advance()
	JSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"stage":   h.store.Stage(),
	})
}

// GoBack returns to the previous stage when allowed.
func (h *WorkflowHandler) GoBack(w http.ResponseWriter, _ *http.Request) {
	applied := h.flow.GoBack()
	JSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"stage":   h.store.Stage(),
	})
}

// Reset discards the session and starts over. It is refused with 409 while
// a stage or issue call is in flight.
func (h *WorkflowHandler) Reset(w http.ResponseWriter, _ *http.Request) {
	if err := h.flow.Reset(); err != nil {
		Error(w, http.StatusConflict, "request_in_progress")
		return
	}
	JSON(w, http.StatusOK, h.view(h.store.Snapshot()))
}

// PreviousStory returns the most recent imported user story.
func (h *WorkflowHandler) PreviousStory(w http.ResponseWriter, _ *http.Request) {
	story, ok := h.flow.PreviousUserStory()
	JSON(w, http.StatusOK, map[string]interface{}{
		"found": ok,
		"story": story,
	})
}

type reviewModalRequest struct {
	Open bool `json:"open"`
}

// SetReviewModal records whether the review dialog is open.
func (h *WorkflowHandler) SetReviewModal(w http.ResponseWriter, r *http.Request) {
	var req reviewModalRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.store.SetReviewModalOpen(req.Open)
	JSON(w, http.StatusOK, map[string]bool{"review_modal_open": req.Open})
}

type issueRequest struct {
	IssueID string `json:"issue_id"`
}

// PublishIssue creates or updates the tracker issue with the composed story.
func (h *WorkflowHandler) PublishIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.publisher.Publish(detached(r), req.IssueID); err != nil {
		h.issueError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"issue_id": h.store.IssueID()})
}

// ImportIssue loads an existing tracker issue into the conversation.
func (h *WorkflowHandler) ImportIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	story, err := h.publisher.Import(detached(r), strings.TrimSpace(req.IssueID))
	if err != nil {
		h.issueError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"issue_id": h.store.IssueID(),
		"story":    story,
	})
}

func (h *WorkflowHandler) issueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, issue.ErrInvalidIssueID):
		Error(w, http.StatusBadRequest, "invalid_issue_id")
	case errors.Is(err, issue.ErrNothingToPublish):
		Error(w, http.StatusUnprocessableEntity, "nothing_to_publish")
	case errors.Is(err, issue.ErrBusy):
		Error(w, http.StatusConflict, "issue_request_in_progress")
	default:
		slog.Warn("Issue request failed", "error", err)
		Error(w, http.StatusBadGateway, err.Error())
	}
}

// ListNotifications returns notifications that have not expired.
func (h *WorkflowHandler) ListNotifications(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.notes.Active())
}

// DismissNotification removes a notification before it expires.
func (h *WorkflowHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	if !h.notes.Dismiss(chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "notification_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
