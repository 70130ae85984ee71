// Package domain contains core domain types for the story refinement workflow.
package domain

// Stage is one position in the fixed five-step workflow.
type Stage string

const (
	StageRefineStory     Stage = "refineStory"
	StageCornerCases     Stage = "cornerCases"
	StageTestingStrategy Stage = "testingStrategy"
	StageComposition     Stage = "composition"
	StageFinished        Stage = "finished"
)

// stageOrder is the only legal progression.
var stageOrder = []Stage{
	StageRefineStory,
	StageCornerCases,
	StageTestingStrategy,
	StageComposition,
	StageFinished,
}

// Stages returns the workflow stages in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the five workflow stages.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

// Next returns the following stage. The second result is false for
// StageFinished and for unknown stages.
func (s Stage) Next() (Stage, bool) {
	i := s.index()
	if i < 0 || i == len(stageOrder)-1 {
		return s, false
	}
	return stageOrder[i+1], true
}

// Previous returns the preceding stage. The second result is false for
// StageRefineStory and for unknown stages.
func (s Stage) Previous() (Stage, bool) {
	i := s.index()
	if i <= 0 {
		return s, false
	}
	return stageOrder[i-1], true
}

// Terminal reports whether no further feedback can be submitted.
func (s Stage) Terminal() bool {
	return s == StageFinished
}
