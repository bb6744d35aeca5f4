package app

import (
	"context"

	"quiz-attempt-service/internal/domain"
)

// AttemptLedger is the single source of truth for attempt state. TryStart
// and Finalize are atomic per (student, quiz) pair and per attempt; callers
// must not treat a prior read as a substitute for them.
type AttemptLedger interface {
	// TryStart stores attempt as IN_PROGRESS, or fails with
	// domain.ErrAlreadyAttempted when the pair already has one.
	TryStart(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error)
	// Finalize moves IN_PROGRESS -> SUBMITTED. Any other status yields
	// domain.ErrInvalidTransition.
	Finalize(ctx context.Context, attemptID string, sub domain.Submission) (domain.Attempt, error)
	// MarkPublished moves SUBMITTED -> PUBLISHED; already published is a no-op.
	MarkPublished(ctx context.Context, attemptID string) (domain.Attempt, error)
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	Find(ctx context.Context, studentID, quizID string) (domain.Attempt, error)
	ListByQuiz(ctx context.Context, quizID string) ([]domain.Attempt, error)
	ListByStudent(ctx context.Context, studentID string) ([]domain.Attempt, error)
	ListInProgress(ctx context.Context) ([]domain.Attempt, error)
	// ListFinalized returns SUBMITTED and PUBLISHED attempts of every quiz.
	ListFinalized(ctx context.Context) ([]domain.Attempt, error)
}

// DraftStore keeps the last answers recorded for an in-progress attempt so
// the timer can auto-submit them.
type DraftStore interface {
	Save(ctx context.Context, attemptID string, answers domain.Answers) error
	Load(ctx context.Context, attemptID string) (domain.Answers, error)
	Clear(ctx context.Context, attemptID string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Grader scores answers against quiz content.
type Grader interface {
	Score(ctx context.Context, quiz domain.Quiz, answers domain.Answers) (domain.Score, error)
}

// EventPublisher hands finalized results to the leaderboard fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LeaderboardEvent) error
}

// EventBus carries leaderboard events between service instances. Every
// instance forwards what it receives into its local broadcaster.
type EventBus interface {
	EventPublisher
	StartForwarder(ctx context.Context, onEvent func(domain.LeaderboardEvent)) error
	Close() error
}
