// Package gateway is the HTTP/JSON client for the story refinement backend.
//
// The client is a pure pass-through: it attaches the session id when one is
// known, returns the decoded response, and reports any transport failure or
// non-2xx status as an error. It never retries and never interprets results.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/story-refiner/internal/metrics"
	"github.com/google/uuid"
)

// Endpoint paths relative to the backend base URL.
const (
	PathRefineStory            = "/api/v1/refine_story"
	PathIdentifyCornerCases    = "/api/v1/identify_corner_cases"
	PathProposeTestingStrategy = "/api/v1/propose_testing_strategy"
	PathFinalizeStory          = "/api/v1/finalize_story"
	PathIssue                  = "/api/v1/jira/story"
)

// RequestIDHeader carries a per-call id for correlating backend logs.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

var errEmptyBaseURL = errors.New("backend base URL is empty")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: backend returned %d: %s", e.Endpoint, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: backend returned %d", e.Endpoint, e.StatusCode)
}

// Client talks to the refinement backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	recorder   metrics.Recorder
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a backend client for baseURL, e.g. "http://localhost:8000".
// The default HTTP client has no timeout: a hung call stays in flight.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errEmptyBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		recorder:   metrics.Nop(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RefineStory calls the refine endpoint.
func (c *Client) RefineStory(ctx context.Context, req RefineRequest) (*RefineResponse, error) {
	var resp RefineResponse
	if err := c.post(ctx, PathRefineStory, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IdentifyCornerCases calls the corner case endpoint.
func (c *Client) IdentifyCornerCases(ctx context.Context, req CornerCasesRequest) (*CornerCasesResponse, error) {
	req.ExistingCornerCases = nonNil(req.ExistingCornerCases)

	var resp CornerCasesResponse
	if err := c.post(ctx, PathIdentifyCornerCases, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProposeTestingStrategy calls the testing strategy endpoint.
func (c *Client) ProposeTestingStrategy(ctx context.Context, req TestingStrategyRequest) (*TestingStrategyResponse, error) {
	req.CornerCases = nonNil(req.CornerCases)
	req.ExistingTestingStrategies = nonNil(req.ExistingTestingStrategies)

	var resp TestingStrategyResponse
	if err := c.post(ctx, PathProposeTestingStrategy, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeStory calls the composition endpoint.
func (c *Client) FinalizeStory(ctx context.Context, req FinalizeRequest) (*FinalizeResponse, error) {
	req.CornerCases = nonNil(req.CornerCases)
	req.TestingStrategy = nonNil(req.TestingStrategy)

	var resp FinalizeResponse
	if err := c.post(ctx, PathFinalizeStory, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublishIssue creates or updates an issue in the tracker.
func (c *Client) PublishIssue(ctx context.Context, req PublishIssueRequest) (*PublishIssueResponse, error) {
	var resp PublishIssueResponse
	if err := c.post(ctx, PathIssue, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchIssue loads an existing issue from the tracker.
func (c *Client) FetchIssue(ctx context.Context, issueID string) (*Issue, error) {
	path := PathIssue + "/" + url.PathEscape(issueID)
	var issue Issue
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	endpoint := endpointName(path)
	start := time.Now()
	status := 0
	success := false
	defer func() {
		c.recorder.ObserveRequest(endpoint, status, success, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	c.logger.Debug("backend request", "endpoint", endpoint, "method", method, "request_id", reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close backend response body", "endpoint", endpoint, "error", closeErr)
		}
	}()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}

	success = true
	c.logger.Debug("backend response", "endpoint", endpoint, "status", status, "request_id", reqID,
		"duration", time.Since(start))
	return nil
}

// errorDetail extracts the message from a {"detail": ...} error body, falling
// back to the raw text.
func errorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(body.Detail) > 0 && string(body.Detail) != "null" {
			return string(body.Detail)
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func endpointName(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	if strings.HasPrefix(trimmed, "jira/story/") {
		return "jira_story_get"
	}
	if trimmed == "jira/story" {
		return "jira_story"
	}
	return trimmed
}
