// Package flow drives the story refinement workflow.
//
// The Controller owns the stage machine: it validates user input, calls the
// backend for the current stage, turns the result into store mutations and
// conversation messages, and guards stage transitions.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/gateway"
	"github.com/ashureev/story-refiner/internal/notify"
	"github.com/ashureev/story-refiner/internal/session"
)

var (
	// ErrBlankFeedback is returned for empty or whitespace-only input.
	ErrBlankFeedback = errors.New("feedback is blank")
	// ErrWorkflowFinished is returned when feedback is submitted after the
	// last stage.
	ErrWorkflowFinished = errors.New("workflow is finished")
	// ErrBusy is returned while another call is in flight.
	ErrBusy = errors.New("a request is already in progress")
)

// Backend is the subset of the gateway the controller calls.
type Backend interface {
	RefineStory(ctx context.Context, req gateway.RefineRequest) (*gateway.RefineResponse, error)
	IdentifyCornerCases(ctx context.Context, req gateway.CornerCasesRequest) (*gateway.CornerCasesResponse, error)
	ProposeTestingStrategy(ctx context.Context, req gateway.TestingStrategyRequest) (*gateway.TestingStrategyResponse, error)
	FinalizeStory(ctx context.Context, req gateway.FinalizeRequest) (*gateway.FinalizeResponse, error)
}

// Ensure the HTTP client satisfies Backend.
var _ Backend = (*gateway.Client)(nil)

// Controller is the workflow state machine.
type Controller struct {
	store    *session.Store
	backend  Backend
	notifier notify.Notifier
	logger   *slog.Logger
}

// New creates a controller over store. A nil logger uses slog.Default.
func New(store *session.Store, backend Backend, notifier notify.Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		backend:  backend,
		notifier: notifier,
		logger:   logger,
	}
}

// SubmitFeedback sends text to the backend for the current stage.
//
// Validation failures return a sentinel error and change nothing. A backend
// failure pushes an error notification and returns the error; the
// conversation and stage are left as they were before the user message, so
// the user can resubmit.
func (c *Controller) SubmitFeedback(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankFeedback
	}
	stage, ok := c.store.BeginLoading()
	if !ok {
		if stage.Terminal() {
			return ErrWorkflowFinished
		}
		return ErrBusy
	}
	defer c.store.EndLoading()

	logger := c.logger.With("stage", string(stage))
	logger.Info("Submitting feedback", "session_id", c.store.SessionID(), "length", len(text))

	var (
		result stageResult
		err    error
	)
	switch stage {
	case domain.StageRefineStory:
		result, err = c.refine(ctx, text)
	case domain.StageCornerCases:
		result, err = c.cornerCases(ctx, text)
	case domain.StageTestingStrategy:
		result, err = c.testingStrategy(ctx, text)
	case domain.StageComposition:
		result, err = c.compose(ctx, text)
	default:
		return fmt.Errorf("submit feedback: unknown stage %q", stage)
	}
	if err != nil {
		logger.Error("Stage request failed", "error", err)
		c.notifyError(err)
		return fmt.Errorf("%s: %w", stage, err)
	}

	c.store.AppendMessage(domain.Message{Sender: domain.SenderUser, Text: text})
	result.apply(c.store)
	if result.reply == "" {
		logger.Warn("Backend returned no content, nothing to show")
		return nil
	}
	c.store.AppendMessage(domain.Message{Sender: domain.SenderAssistant, Text: result.reply})
	return nil
}

// Advance moves to the next stage and appends that stage's system prompt.
// It is a silent no-op, returning false, when there is no refined story, the
// workflow is finished, or a stage call is in flight.
func (c *Controller) Advance() bool {
	var from, to domain.Stage
	applied := c.store.Transition(func(st *domain.Snapshot) bool {
		if !CanAdvance(*st) {
			return false
		}
		from = st.Stage
		to, _ = from.Next()
		st.Stage = to
		st.Messages = append(st.Messages, domain.Message{Sender: domain.SenderSystem, Text: stagePrompt(to)})
		return true
	})
	if applied {
		c.logger.Info("Stage advanced", "from", string(from), "to", string(to))
	}
	return applied
}

// GoBack returns to the previous stage without a network call or message.
// Only the three middle stages can go back.
func (c *Controller) GoBack() bool {
	var from, to domain.Stage
	applied := c.store.Transition(func(st *domain.Snapshot) bool {
		if !CanGoBack(st.Stage) {
			return false
		}
		from = st.Stage
		to, _ = from.Previous()
		st.Stage = to
		return true
	})
	if applied {
		c.logger.Info("Stage retreated", "from", string(from), "to", string(to))
	}
	return applied
}

// CanAdvance reports whether Advance would succeed for snap.
func CanAdvance(snap domain.Snapshot) bool {
	if snap.Loading || snap.RefinedStory == "" {
		return false
	}
	_, ok := snap.Stage.Next()
	return ok
}

// CanGoBack reports whether stage has a go back action.
func CanGoBack(stage domain.Stage) bool {
	switch stage {
	case domain.StageCornerCases, domain.StageTestingStrategy, domain.StageComposition:
		return true
	}
	return false
}

// PreviousUserStory returns the text of the most recent imported user story.
func (c *Controller) PreviousUserStory() (string, bool) {
	msgs := c.store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == domain.SenderUserStory {
			return msgs[i].Text, true
		}
	}
	return "", false
}

// Reset discards the whole session. It returns ErrBusy while a stage or
// issue call is in flight so a late response cannot land in the new session.
func (c *Controller) Reset() error {
	if !c.store.Reset() {
		return ErrBusy
	}
	c.logger.Info("Session reset")
	return nil
}

func (c *Controller) notifyError(err error) {
	if c.notifier == nil {
		return
	}
	msg := err.Error()
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) && statusErr.Detail != "" {
		msg = statusErr.Detail
	}
	c.notifier.Notify(domain.NotificationError, msg)
}

func stagePrompt(stage domain.Stage) string {
	switch stage {
	case domain.StageCornerCases:
		return "Story refined. Let's look for corner cases: send your feedback or ask me to identify them."
	case domain.StageTestingStrategy:
		return "Corner cases identified. Please give your feedback on the testing strategies so I can propose them."
	case domain.StageComposition:
		return "You have reached the composition phase. Send any final remarks and I will compose the complete story."
	case domain.StageFinished:
		return "The story has been finalized. You can review it and publish it to the issue tracker."
	default:
		return ""
	}
}
