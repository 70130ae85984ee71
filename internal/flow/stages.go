package flow

import (
	"context"
	"strings"

	"github.com/ashureev/story-refiner/internal/gateway"
	"github.com/ashureev/story-refiner/internal/session"
)

// stageResult holds the store updates of a successful stage call. Nothing
// is written until the call has resolved.
type stageResult struct {
	sessionID string
	updates   []func(*session.Store)
	reply     string
}

func (r *stageResult) set(fn func(*session.Store)) {
	r.updates = append(r.updates, fn)
}

func (r stageResult) apply(s *session.Store) {
	for _, fn := range r.updates {
		fn(s)
	}
	s.SetSessionID(r.sessionID)
}

// refine handles the first stage. The first submission is the story itself;
// later submissions are feedback on the original story.
func (c *Controller) refine(ctx context.Context, text string) (stageResult, error) {
	req := gateway.RefineRequest{
		Story:     c.store.OriginalStory(),
		SessionID: c.store.SessionID(),
	}
	first := req.Story == ""
	if first {
		req.Story = text
	} else {
		req.Feedback = text
	}

	resp, err := c.backend.RefineStory(ctx, req)
	if err != nil {
		return stageResult{}, err
	}

	var res stageResult
	res.sessionID = gateway.Str(resp.SessionID)
	if first {
		res.set(func(s *session.Store) { s.SetOriginalStory(text) })
	}
	refined := gateway.Str(resp.RefinedStory)
	if refined == "" {
		return res, nil
	}
	res.set(func(s *session.Store) { s.SetRefinedStory(refined) })
	res.reply = withSection("**Refined Story:**\n"+refined, "**Changes Made:**", gateway.Str(resp.RefinementFeedback))
	return res, nil
}

func (c *Controller) cornerCases(ctx context.Context, text string) (stageResult, error) {
	resp, err := c.backend.IdentifyCornerCases(ctx, gateway.CornerCasesRequest{
		Story:               c.store.RefinedStory(),
		Feedback:            text,
		ExistingCornerCases: c.store.CornerCases(),
		SessionID:           c.store.SessionID(),
	})
	if err != nil {
		return stageResult{}, err
	}

	var res stageResult
	res.sessionID = gateway.Str(resp.SessionID)
	if len(resp.CornerCases) == 0 {
		return res, nil
	}
	cases := resp.CornerCases
	res.set(func(s *session.Store) { s.SetCornerCases(cases) })
	res.reply = withSection("**Corner Cases Identified:**\n"+strings.Join(cases, "\n"),
		"**Change Analysis:**", gateway.Str(resp.CornerCasesFeedback))
	return res, nil
}

func (c *Controller) testingStrategy(ctx context.Context, text string) (stageResult, error) {
	resp, err := c.backend.ProposeTestingStrategy(ctx, gateway.TestingStrategyRequest{
		Story:                     c.store.RefinedStory(),
		CornerCases:               c.store.CornerCases(),
		Feedback:                  text,
		ExistingTestingStrategies: c.store.TestingStrategies(),
		SessionID:                 c.store.SessionID(),
	})
	if err != nil {
		return stageResult{}, err
	}

	var res stageResult
	res.sessionID = gateway.Str(resp.SessionID)
	if len(resp.TestingStrategies) == 0 {
		return res, nil
	}
	strategies := resp.TestingStrategies
	res.set(func(s *session.Store) { s.SetTestingStrategies(strategies) })
	res.reply = withSection("**Proposed Testing Strategies:**\n"+strings.Join(strategies, "\n"),
		"**Change Analysis:**", gateway.Str(resp.TestingFeedback))
	return res, nil
}

// compose finalizes the story. It may be called repeatedly; each call
// replaces the composed story.
func (c *Controller) compose(ctx context.Context, text string) (stageResult, error) {
	resp, err := c.backend.FinalizeStory(ctx, gateway.FinalizeRequest{
		RefinedStory:    c.store.RefinedStory(),
		CornerCases:     c.store.CornerCases(),
		TestingStrategy: c.store.TestingStrategies(),
		Feedback:        text,
		SessionID:       c.store.SessionID(),
	})
	if err != nil {
		return stageResult{}, err
	}

	var res stageResult
	res.sessionID = gateway.Str(resp.SessionID)
	finalized := gateway.Str(resp.FinalizedStory)
	if finalized == "" {
		return res, nil
	}
	composed := finalized
	if fb := strings.TrimSpace(gateway.Str(resp.Feedback)); fb != "" {
		composed += "\n\n" + gateway.Str(resp.Feedback)
	}
	res.set(func(s *session.Store) { s.SetComposedStory(composed) })
	res.reply = composed
	return res, nil
}

// withSection appends a titled section only when body is non-empty.
func withSection(text, title, body string) string {
	if body == "" {
		return text
	}
	return text + "\n\n" + title + "\n" + body
}
