package gateway

// Optional response fields are pointers so that an absent field can be told
// apart from an empty one. Request session ids use omitempty: the backend
// treats a missing field, never null, as a new session.

// RefineRequest is the payload for the refine stage.
type RefineRequest struct {
	Story     string `json:"story"`
	Feedback  string `json:"feedback,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// RefineResponse is the backend result of the refine stage.
type RefineResponse struct {
	RefinedStory       *string `json:"refined_story"`
	RefinementFeedback *string `json:"refinement_feedback"`
	SessionID          *string `json:"session_id"`
}

// CornerCasesRequest is the payload for the corner case stage.
type CornerCasesRequest struct {
	Story               string   `json:"story"`
	Feedback            string   `json:"feedback,omitempty"`
	ExistingCornerCases []string `json:"existing_corner_cases"`
	SessionID           string   `json:"session_id,omitempty"`
}

// CornerCasesResponse is the backend result of the corner case stage.
type CornerCasesResponse struct {
	CornerCases         []string `json:"corner_cases"`
	CornerCasesFeedback *string  `json:"corner_cases_feedback"`
	SessionID           *string  `json:"session_id"`
}

// TestingStrategyRequest is the payload for the testing strategy stage.
type TestingStrategyRequest struct {
	Story                     string   `json:"story"`
	CornerCases               []string `json:"corner_cases"`
	Feedback                  string   `json:"feedback,omitempty"`
	ExistingTestingStrategies []string `json:"existing_testing_strategies"`
	SessionID                 string   `json:"session_id,omitempty"`
}

// TestingStrategyResponse is the backend result of the testing strategy stage.
type TestingStrategyResponse struct {
	TestingStrategies []string `json:"testing_strategies"`
	TestingFeedback   *string  `json:"testing_feedback"`
	SessionID         *string  `json:"session_id"`
}

// FinalizeRequest is the payload for the composition stage. Feedback is
// always sent, possibly empty.
type FinalizeRequest struct {
	RefinedStory    string   `json:"refined_story"`
	CornerCases     []string `json:"corner_cases"`
	TestingStrategy []string `json:"testing_strategy"`
	Feedback        string   `json:"feedback"`
	SessionID       string   `json:"session_id,omitempty"`
}

// FinalizeResponse is the backend result of the composition stage.
type FinalizeResponse struct {
	FinalizedStory *string `json:"finalized_story"`
	Feedback       *string `json:"feedback"`
	SessionID      *string `json:"session_id"`
}

// PublishIssueRequest creates an issue, or updates IssueID when set.
type PublishIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IssueID     string `json:"issue_id,omitempty"`
}

// PublishIssueResponse carries the created or updated issue id.
type PublishIssueResponse struct {
	IssueID string `json:"issue_id"`
}

// Issue is a ticket fetched from the issue tracker.
type Issue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Str returns the value of an optional string field, or "" when absent.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// nonNil keeps list fields encoded as [] rather than null.
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
