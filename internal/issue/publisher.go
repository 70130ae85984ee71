// Package issue publishes the composed story to the issue tracker and imports
// existing tickets into the conversation.
package issue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/gateway"
	"github.com/ashureev/story-refiner/internal/notify"
	"github.com/ashureev/story-refiner/internal/session"
)

// DefaultTitle is the issue title used when none is configured.
const DefaultTitle = "User Story"

var (
	// ErrInvalidIssueID is returned for identifiers that are not PROJECT-123 style.
	ErrInvalidIssueID = errors.New("invalid issue id")
	// ErrNothingToPublish is returned when no composed story exists yet.
	ErrNothingToPublish = errors.New("no composed story to publish")
	// ErrBusy is returned while another issue call is in flight.
	ErrBusy = errors.New("an issue request is already in progress")
)

// IDPattern is the accepted tracker key format, such as PROJ-123. The web
// page applies the same expression before enabling its issue controls.
const IDPattern = `^[A-Z]+-[0-9]+$`

var idPattern = regexp.MustCompile(IDPattern)

// Backend is the subset of the gateway the publisher calls.
type Backend interface {
	PublishIssue(ctx context.Context, req gateway.PublishIssueRequest) (*gateway.PublishIssueResponse, error)
	FetchIssue(ctx context.Context, issueID string) (*gateway.Issue, error)
}

var _ Backend = (*gateway.Client)(nil)

// Publisher creates or updates the tracker issue for the session.
type Publisher struct {
	store    *session.Store
	backend  Backend
	notifier notify.Notifier
	title    string
	logger   *slog.Logger
}

// NewPublisher creates a publisher. An empty title uses DefaultTitle and a
// nil logger uses slog.Default.
func NewPublisher(store *session.Store, backend Backend, notifier notify.Notifier, title string, logger *slog.Logger) *Publisher {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:    store,
		backend:  backend,
		notifier: notifier,
		title:    title,
		logger:   logger,
	}
}

// ValidID reports whether id looks like a tracker key such as PROJ-123.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// CanPublish reports whether a publish with issueID would be attempted for
// snap. An empty id means create.
func CanPublish(snap domain.Snapshot, issueID string) bool {
	if issueID != "" && !ValidID(issueID) {
		return false
	}
	return snap.ComposedStory != "" && !snap.IssuePublishInProgress
}

// Publish sends the composed story to the tracker. An empty issueID creates
// a new issue; otherwise that issue is updated. On failure the stored issue
// id is left untouched and an error notification is pushed.
func (p *Publisher) Publish(ctx context.Context, issueID string) error {
	issueID = strings.TrimSpace(issueID)
	if issueID != "" && !ValidID(issueID) {
		return fmt.Errorf("%w: %q", ErrInvalidIssueID, issueID)
	}
	composed := p.store.ComposedStory()
	if composed == "" {
		return ErrNothingToPublish
	}
	if !p.store.BeginIssuePublish() {
		return ErrBusy
	}
	defer p.store.EndIssuePublish()

	logger := p.logger.With("issue_id", issueID)
	logger.Info("Publishing issue")

	resp, err := p.backend.PublishIssue(ctx, gateway.PublishIssueRequest{
		Title:       p.title,
		Description: composed,
		IssueID:     issueID,
	})
	if err != nil {
		logger.Error("Issue publish failed", "error", err)
		p.notify(domain.NotificationError, errorMessage(err, "Could not publish the issue"))
		return fmt.Errorf("publish issue: %w", err)
	}

	if resp.IssueID != "" {
		p.store.SetIssueID(resp.IssueID)
	}
	logger.Info("Issue published", "result_id", resp.IssueID)
	p.notify(domain.NotificationSuccess, publishedMessage(issueID, resp.IssueID))
	return nil
}

// Import loads issueID from the tracker into the conversation as a user
// story message, links it to the session, and returns the story text.
func (p *Publisher) Import(ctx context.Context, issueID string) (string, error) {
	issueID = strings.TrimSpace(issueID)
	if !ValidID(issueID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIssueID, issueID)
	}
	if !p.store.BeginIssuePublish() {
		return "", ErrBusy
	}
	defer p.store.EndIssuePublish()

	issue, err := p.backend.FetchIssue(ctx, issueID)
	if err != nil {
		p.logger.Error("Issue import failed", "issue_id", issueID, "error", err)
		p.notify(domain.NotificationError, errorMessage(err, "Could not load the issue"))
		return "", fmt.Errorf("import issue %s: %w", issueID, err)
	}

	text := storyText(issue)
	p.store.AppendMessage(domain.Message{Sender: domain.SenderUserStory, Text: text})
	p.store.SetIssueID(issueID)
	p.logger.Info("Issue imported", "issue_id", issueID)
	return text, nil
}

func (p *Publisher) notify(kind domain.NotificationType, msg string) {
	if p.notifier != nil {
		p.notifier.Notify(kind, msg)
	}
}

func storyText(issue *gateway.Issue) string {
	title := strings.TrimSpace(issue.Title)
	desc := strings.TrimSpace(issue.Description)
	switch {
	case title == "":
		return desc
	case desc == "":
		return title
	}
	return title + "\n\n" + desc
}

func publishedMessage(requested, returned string) string {
	if requested != "" {
		return fmt.Sprintf("Issue %s updated", requested)
	}
	if returned != "" {
		return fmt.Sprintf("Issue %s created", returned)
	}
	return "Issue published"
}

// errorMessage prefers the backend's detail text over fallback.
func errorMessage(err error, fallback string) string {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) && statusErr.Detail != "" {
		return statusErr.Detail
	}
	return fallback
}
