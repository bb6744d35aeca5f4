package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

var _ app.DraftStore = (*DraftStore)(nil)

// DraftStore keeps saved answers per attempt in process memory.
type DraftStore struct {
	mu     sync.Mutex
	drafts map[string]domain.Answers
}

func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]domain.Answers)}
}

// Save merges answers into the attempt's draft.
func (s *DraftStore) Save(_ context.Context, attemptID string, answers domain.Answers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[attemptID]
	if !ok {
		draft = make(domain.Answers, len(answers))
		s.drafts[attemptID] = draft
	}
	for questionID, answer := range answers {
		draft[questionID] = answer
	}
	return nil
}

func (s *DraftStore) Load(_ context.Context, attemptID string) (domain.Answers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[attemptID].Clone(), nil
}

func (s *DraftStore) Clear(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, attemptID)
	return nil
}
