// Package session holds the in-memory state of a refinement session.
//
// The Store is the single source of truth for the workflow. Every mutation is
// atomic, performs no I/O, and notifies subscribers with a fresh snapshot.
package session

import (
	"sync"

	"github.com/ashureev/story-refiner/internal/domain"
)

// Store owns a session's state. The zero value is not usable; call New.
type Store struct {
	mu    sync.RWMutex
	state domain.Snapshot

	subMu     sync.Mutex
	subs      map[int]chan domain.Snapshot
	nextID    int
	published uint64
}

// New creates a store in the initial workflow state.
func New() *Store {
	return &Store{
		state: domain.NewSnapshot(),
		subs:  make(map[int]chan domain.Snapshot),
	}
}

// mutate applies fn under the write lock and publishes the result.
func (s *Store) mutate(fn func(st *domain.Snapshot)) {
	s.mutateIf(func(st *domain.Snapshot) bool {
		fn(st)
		return true
	})
}

// mutateIf applies fn under the write lock. Nothing is published when fn
// returns false.
func (s *Store) mutateIf(fn func(st *domain.Snapshot) bool) bool {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.state.Version++
	snap := s.state.Clone()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Stage returns the current workflow stage.
func (s *Store) Stage() domain.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Stage
}

// SessionID returns the backend session id, or "" when none was assigned.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SessionID
}

// OriginalStory returns the story as first submitted.
func (s *Store) OriginalStory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.OriginalStory
}

// RefinedStory returns the authoritative story used by later stages.
func (s *Store) RefinedStory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RefinedStory
}

// CornerCases returns a copy of the accumulated corner cases.
func (s *Store) CornerCases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStrings(s.state.CornerCases)
}

// TestingStrategies returns a copy of the accumulated testing strategies.
func (s *Store) TestingStrategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStrings(s.state.TestingStrategies)
}

// ComposedStory returns the latest composition result.
func (s *Store) ComposedStory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ComposedStory
}

// IssueID returns the linked issue id, or "" when none is linked.
func (s *Store) IssueID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IssueID
}

// Messages returns a copy of the conversation log in chronological order.
func (s *Store) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.state.Messages...)
}

// Loading reports whether a stage call is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Loading
}

// IssuePublishInProgress reports whether an issue call is in flight.
func (s *Store) IssuePublishInProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IssuePublishInProgress
}

// AppendMessage adds msg to the end of the conversation log.
func (s *Store) AppendMessage(msg domain.Message) {
	s.mutate(func(st *domain.Snapshot) {
		st.Messages = append(st.Messages, msg)
	})
}

// SetStage moves the workflow to stage. Transition rules live in the flow
// controller; the store only records the value.
func (s *Store) SetStage(stage domain.Stage) {
	s.mutate(func(st *domain.Snapshot) {
		st.Stage = stage
	})
}

// SetOriginalStory records the story as first submitted.
func (s *Store) SetOriginalStory(story string) {
	s.mutate(func(st *domain.Snapshot) {
		st.OriginalStory = story
	})
}

// SetRefinedStory records the refined story.
func (s *Store) SetRefinedStory(story string) {
	s.mutate(func(st *domain.Snapshot) {
		st.RefinedStory = story
	})
}

// SetCornerCases replaces the corner case list.
func (s *Store) SetCornerCases(cases []string) {
	s.mutate(func(st *domain.Snapshot) {
		st.CornerCases = copyStrings(cases)
	})
}

// SetTestingStrategies replaces the testing strategy list.
func (s *Store) SetTestingStrategies(strategies []string) {
	s.mutate(func(st *domain.Snapshot) {
		st.TestingStrategies = copyStrings(strategies)
	})
}

// SetComposedStory records the composition result.
func (s *Store) SetComposedStory(story string) {
	s.mutate(func(st *domain.Snapshot) {
		st.ComposedStory = story
	})
}

// SetSessionID replaces the backend session id. An empty id is ignored so a
// response without one never clears an existing id.
func (s *Store) SetSessionID(id string) {
	if id == "" {
		return
	}
	s.mutate(func(st *domain.Snapshot) {
		st.SessionID = id
	})
}

// SetIssueID links the session to an external issue.
func (s *Store) SetIssueID(id string) {
	s.mutate(func(st *domain.Snapshot) {
		st.IssueID = id
	})
}

// SetReviewModalOpen records the review dialog visibility.
func (s *Store) SetReviewModalOpen(open bool) {
	s.mutate(func(st *domain.Snapshot) {
		st.ReviewModalOpen = open
	})
}

// BeginLoading sets the stage loading flag and returns the stage the call
// is made for. It returns false, leaving state untouched, when a stage call
// is already in flight or the workflow is finished.
func (s *Store) BeginLoading() (domain.Stage, bool) {
	var stage domain.Stage
	ok := s.mutateIf(func(st *domain.Snapshot) bool {
		stage = st.Stage
		if st.Loading || st.Stage.Terminal() {
			return false
		}
		st.Loading = true
		return true
	})
	return stage, ok
}

// EndLoading clears the stage loading flag.
func (s *Store) EndLoading() {
	s.mutate(func(st *domain.Snapshot) {
		st.Loading = false
	})
}

// BeginIssuePublish sets the issue loading flag. It returns false when an
// issue call is already in flight.
func (s *Store) BeginIssuePublish() bool {
	return s.testAndSet(func(st *domain.Snapshot) *bool { return &st.IssuePublishInProgress })
}

// EndIssuePublish clears the issue loading flag.
func (s *Store) EndIssuePublish() {
	s.mutate(func(st *domain.Snapshot) {
		st.IssuePublishInProgress = false
	})
}

func (s *Store) testAndSet(field func(st *domain.Snapshot) *bool) bool {
	return s.mutateIf(func(st *domain.Snapshot) bool {
		flag := field(st)
		if *flag {
			return false
		}
		*flag = true
		return true
	})
}

// Transition applies fn under the write lock unless a stage call is in
// flight. fn must leave st untouched when it returns false.
func (s *Store) Transition(fn func(st *domain.Snapshot) bool) bool {
	return s.mutateIf(func(st *domain.Snapshot) bool {
		return !st.Loading && fn(st)
	})
}

// Reset restores every field to its initial value in one step. It returns
// false, leaving state untouched, while a stage or issue call is in flight.
func (s *Store) Reset() bool {
	return s.mutateIf(func(st *domain.Snapshot) bool {
		if st.Loading || st.IssuePublishInProgress {
			return false
		}
		version := st.Version
		*st = domain.NewSnapshot()
		st.Version = version
		return true
	})
}

// Restore replaces the whole state with snap, typically one loaded from
// persistence. Transient flags are cleared since no call survives a restart.
func (s *Store) Restore(snap domain.Snapshot) {
	restored := snap.Clone()
	if !restored.Stage.Valid() {
		restored.Stage = domain.StageRefineStory
	}
	restored.Loading = false
	restored.IssuePublishInProgress = false
	s.mutate(func(st *domain.Snapshot) {
		version := st.Version
		*st = restored
		if restored.Version > version {
			version = restored.Version
		}
		st.Version = version
	})
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
