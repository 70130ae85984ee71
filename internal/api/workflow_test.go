//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/story-refiner/internal/config"
	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/flow"
	"github.com/ashureev/story-refiner/internal/gateway"
	"github.com/ashureev/story-refiner/internal/issue"
	"github.com/ashureev/story-refiner/internal/notify"
	"github.com/ashureev/story-refiner/internal/session"
	"github.com/go-chi/chi/v5"
)

func strPtr(s string) *string { return &s }

// fakeBackend serves every stage and issue call from canned values.
type fakeBackend struct {
	mu       sync.Mutex
	err      error
	refined  string
	issueID  string
	calls    int
	finalize string
}

func (f *fakeBackend) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeBackend) RefineStory(_ context.Context, req gateway.RefineRequest) (*gateway.RefineResponse, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.RefineResponse{RefinedStory: strPtr(f.refined), SessionID: strPtr("S1")}, nil
}

func (f *fakeBackend) IdentifyCornerCases(_ context.Context, _ gateway.CornerCasesRequest) (*gateway.CornerCasesResponse, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.CornerCasesResponse{CornerCases: []string{"empty input"}}, nil
}

func (f *fakeBackend) ProposeTestingStrategy(_ context.Context, _ gateway.TestingStrategyRequest) (*gateway.TestingStrategyResponse, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.TestingStrategyResponse{TestingStrategies: []string{"unit"}}, nil
}

func (f *fakeBackend) FinalizeStory(_ context.Context, _ gateway.FinalizeRequest) (*gateway.FinalizeResponse, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.FinalizeResponse{FinalizedStory: strPtr(f.finalize)}, nil
}

func (f *fakeBackend) PublishIssue(_ context.Context, _ gateway.PublishIssueRequest) (*gateway.PublishIssueResponse, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.PublishIssueResponse{IssueID: f.issueID}, nil
}

func (f *fakeBackend) FetchIssue(_ context.Context, id string) (*gateway.Issue, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &gateway.Issue{Title: id, Description: "As a user I want to log in"}, nil
}

type testServer struct {
	router  chi.Router
	store   *session.Store
	notes   *notify.Center
	backend *fakeBackend
	hub     *StreamHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := &fakeBackend{refined: "Refined: As a user...", issueID: "PROJ-1", finalize: "Final story"}
	store := session.New()
	notes := notify.NewCenter(time.Minute)
	cfg := &config.Config{IssueTitle: "User Story", NotificationTTL: time.Minute}

	base := NewHandler(store,
		flow.New(store, backend, notes, nil),
		issue.NewPublisher(store, backend, notes, cfg.IssueTitle, nil),
		notes, cfg)
	hub := NewStreamHub()
	notes.OnNotify(hub.Notify)

	r := chi.NewRouter()
	NewWorkflowHandler(base).RegisterRoutes(r)
	r.Handle("/ws/session", NewStreamHandler(base, hub, "", true))

	return &testServer{router: r, store: store, notes: notes, backend: backend, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var view SessionView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode session view: %v", err)
	}
	return view
}

func TestGetSessionInitialState(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	view := decodeView(t, w)
	if view.Stage != domain.StageRefineStory {
		t.Errorf("Expected refineStory, got %s", view.Stage)
	}
	if view.CanAdvance || view.CanGoBack || view.CanPublish {
		t.Errorf("Expected all controls disabled, got %+v", view)
	}
}

func TestFeedbackThenAdvance(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/feedback", `{"text":"As a user..."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	view := decodeView(t, w)
	if len(view.Messages) != 2 || view.RefinedStory != "Refined: As a user..." {
		t.Fatalf("Unexpected session after feedback: %+v", view.Snapshot)
	}
	if !view.CanAdvance {
		t.Error("Expected advance to be enabled")
	}

	w = srv.do(t, http.MethodPost, "/api/advance", "")
	var adv struct {
		Applied bool         `json:"applied"`
		Stage   domain.Stage `json:"stage"`
	}
	if err := json.NewDecoder(w.Body).Decode(&adv); err != nil {
		t.Fatalf("Failed to decode advance response: %v", err)
	}
	if !adv.Applied || adv.Stage != domain.StageCornerCases {
		t.Errorf("Expected advance to cornerCases, got %+v", adv)
	}

	w = srv.do(t, http.MethodPost, "/api/back", "")
	if err := json.NewDecoder(w.Body).Decode(&adv); err != nil {
		t.Fatalf("Failed to decode back response: %v", err)
	}
	if !adv.Applied || adv.Stage != domain.StageRefineStory {
		t.Errorf("Expected back to refineStory, got %+v", adv)
	}
}

func TestAdvanceWithoutRefinedStoryNotApplied(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/advance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"applied":false`) {
		t.Errorf("Expected applied=false, got %s", w.Body.String())
	}
}

func TestFeedbackErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*testServer)
		body       string
		wantStatus int
	}{
		{name: "blank", body: `{"text":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"txt":"hi"}`, wantStatus: http.StatusBadRequest},
		{
			name:       "finished",
			setup:      func(s *testServer) { s.store.SetStage(domain.StageFinished) },
			body:       `{"text":"more"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "busy",
			setup:      func(s *testServer) { s.store.BeginLoading() },
			body:       `{"text":"more"}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "backend down",
			setup:      func(s *testServer) { s.backend.err = errors.New("connection refused") },
			body:       `{"text":"story"}`,
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			if tt.setup != nil {
				tt.setup(srv)
			}
			w := srv.do(t, http.MethodPost, "/api/feedback", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if len(srv.store.Messages()) != 0 {
				t.Errorf("Expected no messages, got %d", len(srv.store.Messages()))
			}
		})
	}
}

func TestBackendFailureCreatesNotification(t *testing.T) {
	srv := newTestServer(t)
	srv.backend.err = &gateway.StatusError{Endpoint: "refine_story", StatusCode: 500, Detail: "model overloaded"}

	srv.do(t, http.MethodPost, "/api/feedback", `{"text":"story"}`)

	w := srv.do(t, http.MethodGet, "/api/notifications", "")
	var notes []domain.Notification
	if err := json.NewDecoder(w.Body).Decode(&notes); err != nil {
		t.Fatalf("Failed to decode notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != domain.NotificationError || notes[0].Message != "model overloaded" {
		t.Fatalf("Unexpected notifications: %+v", notes)
	}

	w = srv.do(t, http.MethodDelete, "/api/notifications/"+notes[0].ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = srv.do(t, http.MethodDelete, "/api/notifications/"+notes[0].ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestNotificationsEmptyList(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/notifications", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty JSON array, got %s", w.Body.String())
	}
}

func TestResetClearsSession(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/feedback", `{"text":"story"}`)

	view := decodeView(t, srv.do(t, http.MethodPost, "/api/reset", ""))
	if len(view.Messages) != 0 || view.SessionID != "" || view.RefinedStory != "" {
		t.Errorf("Expected empty session after reset, got %+v", view.Snapshot)
	}
}

func TestResetRefusedWhileRequestInFlight(t *testing.T) {
	srv := newTestServer(t)
	srv.store.SetSessionID("S1")
	srv.store.BeginIssuePublish()

	w := srv.do(t, http.MethodPost, "/api/reset", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if srv.store.SessionID() != "S1" {
		t.Error("Expected session to survive a refused reset")
	}

	srv.store.EndIssuePublish()
	if w := srv.do(t, http.MethodPost, "/api/reset", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after the call ended, got %d", w.Code)
	}
}

func TestReviewModalToggle(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPut, "/api/review-modal", `{"open":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !srv.store.Snapshot().ReviewModalOpen {
		t.Error("Expected review modal to be open")
	}
}

func TestPublishIssue(t *testing.T) {
	tests := []struct {
		name       string
		composed   string
		body       string
		wantStatus int
		wantCalls  int
	}{
		{name: "invalid id", composed: "Final", body: `{"issue_id":"invalid"}`, wantStatus: http.StatusBadRequest},
		{name: "nothing composed", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "create", composed: "Final", body: `{}`, wantStatus: http.StatusOK, wantCalls: 1},
		{name: "update", composed: "Final", body: `{"issue_id":"PROJ-123"}`, wantStatus: http.StatusOK, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			if tt.composed != "" {
				srv.store.SetComposedStory(tt.composed)
			}
			w := srv.do(t, http.MethodPost, "/api/issue", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if srv.backend.calls != tt.wantCalls {
				t.Errorf("Expected %d backend calls, got %d", tt.wantCalls, srv.backend.calls)
			}
		})
	}
}

func TestImportIssueAndPreviousStory(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/issue/import", `{"issue_id":"PROJ-5"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = srv.do(t, http.MethodGet, "/api/previous-story", "")
	var prev struct {
		Found bool   `json:"found"`
		Story string `json:"story"`
	}
	if err := json.NewDecoder(w.Body).Decode(&prev); err != nil {
		t.Fatalf("Failed to decode previous story: %v", err)
	}
	if !prev.Found || !strings.Contains(prev.Story, "log in") {
		t.Errorf("Unexpected previous story: %+v", prev)
	}
	if srv.store.IssueID() != "PROJ-5" {
		t.Errorf("Expected linked issue PROJ-5, got %q", srv.store.IssueID())
	}
}

func TestGetConfig(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/config", "")
	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if got["issue_title"] != "User Story" {
		t.Errorf("Expected issue_title, got %v", got)
	}
}
