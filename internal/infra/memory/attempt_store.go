package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

var _ app.AttemptLedger = (*AttemptStore)(nil)

// AttemptStore is an in-memory implementation of app.AttemptLedger.
// TryStart is a LoadOrStore on the (student, quiz) key and every attempt
// carries its own mutex, so unrelated pairs never contend.
type AttemptStore struct {
	byPair sync.Map // pairKey -> *record
	byID   sync.Map // attemptID -> *record
}

type pairKey struct {
	studentID string
	quizID    string
}

type record struct {
	mu      sync.Mutex
	attempt domain.Attempt
}

func (r *record) snapshot() domain.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

func (s *AttemptStore) TryStart(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	attempt.Status = domain.StatusInProgress
	rec := &record{attempt: attempt}

	// byID first so a pair visible to Find always resolves through Get
	s.byID.Store(attempt.ID, rec)
	key := pairKey{studentID: attempt.StudentID, quizID: attempt.QuizID}
	if _, loaded := s.byPair.LoadOrStore(key, rec); loaded {
		s.byID.CompareAndDelete(attempt.ID, rec)
		return domain.Attempt{}, domain.ErrAlreadyAttempted
	}
	return attempt, nil
}

func (s *AttemptStore) Finalize(_ context.Context, attemptID string, sub domain.Submission) (domain.Attempt, error) {
	rec, ok := s.record(attemptID)
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.attempt.Status.CanTransitionTo(domain.StatusSubmitted) {
		return domain.Attempt{}, domain.ErrInvalidTransition
	}
	rec.attempt = rec.attempt.Apply(sub)
	return rec.attempt, nil
}

func (s *AttemptStore) MarkPublished(_ context.Context, attemptID string) (domain.Attempt, error) {
	rec, ok := s.record(attemptID)
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.attempt.Status {
	case domain.StatusPublished:
		return rec.attempt, nil
	case domain.StatusSubmitted:
		rec.attempt = rec.attempt.Published()
		return rec.attempt, nil
	}
	return domain.Attempt{}, domain.ErrInvalidTransition
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	rec, ok := s.record(attemptID)
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return rec.snapshot(), nil
}

func (s *AttemptStore) Find(_ context.Context, studentID, quizID string) (domain.Attempt, error) {
	v, ok := s.byPair.Load(pairKey{studentID: studentID, quizID: quizID})
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return v.(*record).snapshot(), nil
}

func (s *AttemptStore) ListByQuiz(_ context.Context, quizID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.QuizID == quizID }), nil
}

func (s *AttemptStore) ListByStudent(_ context.Context, studentID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.StudentID == studentID }), nil
}

func (s *AttemptStore) ListInProgress(_ context.Context) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.Status == domain.StatusInProgress }), nil
}

func (s *AttemptStore) ListFinalized(_ context.Context) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.Status.Final() }), nil
}

func (s *AttemptStore) record(attemptID string) (*record, bool) {
	v, ok := s.byID.Load(attemptID)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

// filter returns matches ordered by start time. It walks byPair, which
// only ever holds attempts that won TryStart.
func (s *AttemptStore) filter(match func(domain.Attempt) bool) []domain.Attempt {
	out := make([]domain.Attempt, 0)
	s.byPair.Range(func(_, v any) bool {
		attempt := v.(*record).snapshot()
		if match(attempt) {
			out = append(out, attempt)
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
