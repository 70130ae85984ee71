package domain

// Snapshot is the full state of a refinement session. It is what observers
// render and what the host persists across restarts.
type Snapshot struct {
	SessionID              string    `json:"session_id,omitempty"`
	Stage                  Stage     `json:"stage"`
	Messages               []Message `json:"messages"`
	OriginalStory          string    `json:"original_story"`
	RefinedStory           string    `json:"refined_story"`
	CornerCases            []string  `json:"corner_cases"`
	TestingStrategies      []string  `json:"testing_strategies"`
	ComposedStory          string    `json:"composed_story"`
	IssueID                string    `json:"issue_id,omitempty"`
	IssuePublishInProgress bool      `json:"issue_publish_in_progress"`
	ReviewModalOpen        bool      `json:"review_modal_open"`
	Loading                bool      `json:"loading"`
	Version                uint64    `json:"version"`
}

// NewSnapshot returns the initial state of a fresh session.
func NewSnapshot() Snapshot {
	return Snapshot{
		Stage:             StageRefineStory,
		Messages:          []Message{},
		CornerCases:       []string{},
		TestingStrategies: []string{},
	}
}

// Clone returns a deep copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	out.CornerCases = append(make([]string, 0, len(s.CornerCases)), s.CornerCases...)
	out.TestingStrategies = append(make([]string, 0, len(s.TestingStrategies)), s.TestingStrategies...)
	return out
}
