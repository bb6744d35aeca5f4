package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

const (
	// expiryRetryDelay re-schedules an auto-submit whose deadline already
	// passed but whose submission failed (quiz store or ledger unavailable).
	expiryRetryDelay  = 5 * time.Second
	autoSubmitTimeout = 10 * time.Second

	defaultGlobalLimit = 10
	recentAttempts     = 5
)

// Dependencies wires a SubmissionCoordinator. Ledger, Drafts and Quizzes are
// required; the rest fall back to defaults.
type Dependencies struct {
	Ledger    AttemptLedger
	Drafts    DraftStore
	Quizzes   QuizRepository
	Grader    Grader
	Publisher EventPublisher
	Timer     *AttemptTimer
	Clock     clockwork.Clock
	Logger    *logger.Logger
}

// SubmissionCoordinator is the only entry point for starting and
// submitting attempts. Manual submits and timer expiries both converge on
// AttemptLedger.Finalize, whose single winner publishes the result.
type SubmissionCoordinator struct {
	ledger    AttemptLedger
	drafts    DraftStore
	quizzes   QuizRepository
	grader    Grader
	publisher EventPublisher
	timer     *AttemptTimer
	clock     clockwork.Clock
	log       *logger.Logger
}

// AttemptHandle is what a client needs to drive the countdown.
type AttemptHandle struct {
	Attempt          domain.Attempt `json:"attempt"`
	RemainingSeconds int            `json:"remainingSeconds"`
	Deadline         *time.Time     `json:"deadline,omitempty"`
}

func NewSubmissionCoordinator(deps Dependencies) *SubmissionCoordinator {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timer := deps.Timer
	if timer == nil {
		timer = NewAttemptTimer(clock)
	}
	var grader Grader = NewQuizGrader()
	if deps.Grader != nil {
		grader = deps.Grader
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &SubmissionCoordinator{
		ledger:    deps.Ledger,
		drafts:    deps.Drafts,
		quizzes:   deps.Quizzes,
		grader:    grader,
		publisher: deps.Publisher,
		timer:     timer,
		clock:     clock,
		log:       log.With("component", "SubmissionCoordinator"),
	}
}

// StartAttempt opens the single attempt a student gets for a quiz and arms
// its countdown. A second start for the same pair fails with
// domain.ErrAlreadyAttempted.
func (c *SubmissionCoordinator) StartAttempt(ctx context.Context, student domain.Student, quizID string) (AttemptHandle, error) {
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AttemptHandle{}, err
	}

	limit := quiz.TimeLimitSeconds
	if limit < 0 {
		limit = 0
	}
	attempt := domain.Attempt{
		ID:               uuid.NewString(),
		QuizID:           quizID,
		StudentID:        student.ID,
		StudentName:      student.Name,
		GroupSection:     student.Group,
		Status:           domain.StatusInProgress,
		StartedAt:        c.clock.Now(),
		TimeLimitSeconds: limit,
		TotalMarks:       quiz.MaxMarks(),
	}

	stored, err := c.ledger.TryStart(ctx, attempt)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyAttempted) {
			c.log.Info("start rejected, quiz already attempted", "studentID", student.ID, "quizID", quizID)
		}
		return AttemptHandle{}, err
	}

	c.armExpiry(stored)
	c.log.Info("attempt started", "attemptID", stored.ID, "studentID", stored.StudentID, "quizID", quizID, "timeLimitSeconds", stored.TimeLimitSeconds)
	return c.handle(stored), nil
}

// SaveAnswers merges answers into the attempt's draft, the set auto-submit
// uses when the countdown expires.
func (c *SubmissionCoordinator) SaveAnswers(ctx context.Context, attemptID, studentID string, answers domain.Answers) (AttemptHandle, error) {
	attempt, err := c.ledger.Get(ctx, attemptID)
	if err != nil {
		return AttemptHandle{}, err
	}
	if attempt.StudentID != studentID {
		return AttemptHandle{}, domain.ErrForbidden
	}
	if attempt.Status != domain.StatusInProgress {
		return AttemptHandle{}, domain.ErrInvalidTransition
	}
	if attempt.Timed() && attempt.RemainingSeconds(c.clock.Now()) == 0 {
		return AttemptHandle{}, domain.ErrTimeUp
	}

	quiz, err := c.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return AttemptHandle{}, err
	}
	if err := validateAnswers(quiz, answers); err != nil {
		return AttemptHandle{}, err
	}
	if err := c.drafts.Save(ctx, attemptID, answers); err != nil {
		return AttemptHandle{}, fmt.Errorf("save draft: %w", err)
	}
	return c.handle(attempt), nil
}

// SubmitAttempt grades and finalizes an attempt. Losing the race against
// the timer, or repeating a request, returns the stored result instead of
// an error.
func (c *SubmissionCoordinator) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers, timeTakenSeconds int) (domain.Attempt, error) {
	return c.submit(ctx, attemptID, answers, timeTakenSeconds)
}

// AutoSubmit is the timer callback. It submits whatever answers were last
// saved, possibly none.
func (c *SubmissionCoordinator) AutoSubmit(attemptID string) {
	ctx, cancel := context.WithTimeout(context.Background(), autoSubmitTimeout)
	defer cancel()

	attempt, err := c.submit(ctx, attemptID, nil, 0)
	if err != nil {
		c.log.Error("auto-submit failed", "attemptID", attemptID, "error", err)
		// the expiry was consumed; keep retrying until the attempt is final
		if !errors.Is(err, domain.ErrAttemptNotFound) && !errors.Is(err, domain.ErrInvalidTransition) && !c.timer.Armed(attemptID) {
			c.timer.Arm(attemptID, expiryRetryDelay, c.AutoSubmit)
		}
		return
	}
	c.log.Info("attempt auto-submitted on expiry", "attemptID", attemptID, "status", attempt.Status)
}

func (c *SubmissionCoordinator) submit(ctx context.Context, attemptID string, answers domain.Answers, timeTakenSeconds int) (domain.Attempt, error) {
	attempt, err := c.ledger.Get(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Status.Final() {
		c.timer.Cancel(attemptID)
		return attempt, nil
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.Attempt{}, domain.ErrInvalidTransition
	}

	c.timer.Cancel(attemptID)

	merged := c.mergeDrafts(ctx, attemptID, answers)
	quiz, err := c.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		c.rearmAfterFailure(attempt)
		return domain.Attempt{}, fmt.Errorf("load quiz: %w", err)
	}
	score, err := c.grader.Score(ctx, quiz, merged)
	if err != nil {
		c.rearmAfterFailure(attempt)
		return domain.Attempt{}, fmt.Errorf("grade attempt: %w", err)
	}

	now := c.clock.Now()
	final, err := c.ledger.Finalize(ctx, attemptID, domain.Submission{
		Answers:          merged,
		Score:            score,
		SubmittedAt:      now,
		TimeTakenSeconds: timeTaken(attempt, now, timeTakenSeconds),
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		existing, getErr := c.ledger.Get(ctx, attemptID)
		if getErr != nil {
			return domain.Attempt{}, getErr
		}
		c.log.Debug("attempt already finalized by a concurrent submit", "attemptID", attemptID)
		return existing, nil
	}
	if err != nil {
		c.rearmAfterFailure(attempt)
		return domain.Attempt{}, fmt.Errorf("finalize attempt: %w", err)
	}

	if err := c.drafts.Clear(ctx, attemptID); err != nil {
		c.log.Warn("clear draft failed", "attemptID", attemptID, "error", err)
	}
	c.publish(ctx, final)
	c.log.Info("attempt submitted", "attemptID", attemptID, "obtainedMarks", *final.ObtainedMarks, "totalMarks", final.TotalMarks, "timeTakenSeconds", final.TimeTakenSeconds)
	return final, nil
}

// mergeDrafts overlays the submitted answers on the saved draft.
func (c *SubmissionCoordinator) mergeDrafts(ctx context.Context, attemptID string, answers domain.Answers) domain.Answers {
	merged := domain.Answers{}
	draft, err := c.drafts.Load(ctx, attemptID)
	if err != nil {
		c.log.Warn("load draft failed, submitting request answers only", "attemptID", attemptID, "error", err)
	}
	for k, v := range draft {
		merged[k] = v
	}
	for k, v := range answers {
		merged[k] = v
	}
	return merged
}

func (c *SubmissionCoordinator) publish(ctx context.Context, attempt domain.Attempt) {
	if c.publisher == nil {
		return
	}
	event := domain.NewLeaderboardEvent(attempt)
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.log.Warn("leaderboard publish failed", "attemptID", attempt.ID, "quizID", attempt.QuizID, "error", err)
	}
}

func (c *SubmissionCoordinator) armExpiry(attempt domain.Attempt) {
	if !attempt.Timed() || attempt.Status != domain.StatusInProgress {
		return
	}
	c.timer.Arm(attempt.ID, attempt.Deadline().Sub(c.clock.Now()), c.AutoSubmit)
}

// rearmAfterFailure keeps the countdown alive for an attempt that stayed
// IN_PROGRESS. Past the deadline it retries after a fixed delay; it never
// fires synchronously, which would recurse into submit.
func (c *SubmissionCoordinator) rearmAfterFailure(attempt domain.Attempt) {
	if !attempt.Timed() {
		return
	}
	d := attempt.Deadline().Sub(c.clock.Now())
	if d <= 0 {
		d = expiryRetryDelay
	}
	c.timer.Arm(attempt.ID, d, c.AutoSubmit)
}

func (c *SubmissionCoordinator) handle(attempt domain.Attempt) AttemptHandle {
	h := AttemptHandle{
		Attempt:          attempt,
		RemainingSeconds: attempt.RemainingSeconds(c.clock.Now()),
	}
	if attempt.Timed() && attempt.Status == domain.StatusInProgress {
		deadline := attempt.Deadline()
		h.Deadline = &deadline
	}
	return h
}

// CheckAttempted is a UX hint only; StartAttempt remains the guard.
func (c *SubmissionCoordinator) CheckAttempted(ctx context.Context, studentID, quizID string) (bool, error) {
	_, err := c.ledger.Find(ctx, studentID, quizID)
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resume returns the student's attempt with the remaining time recomputed
// from its start, for clients reconnecting mid-attempt.
func (c *SubmissionCoordinator) Resume(ctx context.Context, studentID, quizID string) (AttemptHandle, error) {
	attempt, err := c.ledger.Find(ctx, studentID, quizID)
	if err != nil {
		return AttemptHandle{}, err
	}
	return c.handle(attempt.Result()), nil
}

// RestoreTimers re-arms countdowns for every IN_PROGRESS attempt after a
// restart. Attempts whose deadline passed while down are submitted now.
func (c *SubmissionCoordinator) RestoreTimers(ctx context.Context) (int, error) {
	attempts, err := c.ledger.ListInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-progress attempts: %w", err)
	}
	restored := 0
	for _, attempt := range attempts {
		if !attempt.Timed() {
			continue
		}
		c.armExpiry(attempt)
		restored++
	}
	c.log.Info("attempt timers restored", "count", restored)
	return restored, nil
}

// MarkPublished is the teacher publish hook for a single attempt.
func (c *SubmissionCoordinator) MarkPublished(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return c.ledger.MarkPublished(ctx, attemptID)
}

// PublishQuizResults releases every submitted attempt of a quiz.
func (c *SubmissionCoordinator) PublishQuizResults(ctx context.Context, quizID string) (int, error) {
	attempts, err := c.ledger.ListByQuiz(ctx, quizID)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, attempt := range attempts {
		if attempt.Status != domain.StatusSubmitted {
			continue
		}
		if _, err := c.ledger.MarkPublished(ctx, attempt.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return published, err
		}
		published++
	}
	c.log.Info("quiz results published", "quizID", quizID, "count", published)
	return published, nil
}

// Attempt returns the full attempt record.
func (c *SubmissionCoordinator) Attempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return c.ledger.Get(ctx, attemptID)
}

// StudentAttempts lists a student's attempts with unpublished scores hidden.
func (c *SubmissionCoordinator) StudentAttempts(ctx context.Context, studentID string, visibleOnly bool) ([]domain.Attempt, error) {
	attempts, err := c.ledger.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attempt, 0, len(attempts))
	for _, attempt := range attempts {
		if visibleOnly && !attempt.VisibleToStudent {
			continue
		}
		out = append(out, attempt.Result())
	}
	return out, nil
}

// QuizAttempts lists a quiz's attempts for the teacher, optionally for one group.
func (c *SubmissionCoordinator) QuizAttempts(ctx context.Context, quizID, group string) ([]domain.Attempt, error) {
	attempts, err := c.ledger.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if group == "" {
		return attempts, nil
	}
	out := make([]domain.Attempt, 0, len(attempts))
	for _, attempt := range attempts {
		if attempt.GroupSection == group {
			out = append(out, attempt)
		}
	}
	return out, nil
}

// Leaderboard is the current standing of finalized attempts of a quiz.
func (c *SubmissionCoordinator) Leaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error) {
	attempts, err := c.ledger.ListByQuiz(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	entries := rankEntries(attempts, false)
	return domain.Leaderboard{
		QuizID:    quizID,
		Entries:   entries,
		UpdatedAt: c.clock.Now(),
	}, nil
}

// GlobalLeaderboard ranks finalized attempts of every quiz and keeps the top
// limit (10 when limit <= 0).
func (c *SubmissionCoordinator) GlobalLeaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	if limit <= 0 {
		limit = defaultGlobalLimit
	}
	attempts, err := c.ledger.ListFinalized(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	entries := rankEntries(attempts, true)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return domain.Leaderboard{
		Entries:   entries,
		UpdatedAt: c.clock.Now(),
	}, nil
}

// QuizStatistics summarises the scores of a quiz's finalized attempts.
func (c *SubmissionCoordinator) QuizStatistics(ctx context.Context, quizID string) (domain.QuizStatistics, error) {
	attempts, err := c.ledger.ListByQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizStatistics{}, err
	}
	return domain.QuizStatistics{QuizID: quizID, ScoreStats: domain.NewScoreStats(attempts)}, nil
}

// StudentSummary covers the results a student may see: scores count once
// published, and the most recent attempts come back as student views.
func (c *SubmissionCoordinator) StudentSummary(ctx context.Context, studentID string) (domain.StudentSummary, error) {
	attempts, err := c.ledger.ListByStudent(ctx, studentID)
	if err != nil {
		return domain.StudentSummary{}, err
	}
	visible := make([]domain.Attempt, 0, len(attempts))
	for _, attempt := range attempts {
		visible = append(visible, attempt.Result())
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].StartedAt.After(visible[j].StartedAt)
	})
	recent := visible
	if len(recent) > recentAttempts {
		recent = recent[:recentAttempts]
	}
	return domain.StudentSummary{
		StudentID:      studentID,
		ScoreStats:     domain.NewScoreStats(visible),
		RecentAttempts: recent,
	}, nil
}

// rankEntries orders finalized attempts by score desc, then who submitted
// earlier, then name.
func rankEntries(attempts []domain.Attempt, withQuiz bool) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(attempts))
	for _, attempt := range attempts {
		if !attempt.Status.Final() {
			continue
		}
		event := domain.NewLeaderboardEvent(attempt)
		entry := domain.LeaderboardEntry{
			StudentID:   event.StudentID,
			DisplayName: event.DisplayName,
			Score:       event.Score,
			Percentage:  event.Percentage,
			SubmittedAt: event.Timestamp,
		}
		if withQuiz {
			entry.QuizID = event.QuizID
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return entries
}

// Stop cancels pending countdowns; IN_PROGRESS attempts are picked up by
// RestoreTimers on the next start.
func (c *SubmissionCoordinator) Stop() {
	c.timer.Stop()
}

func validateAnswers(quiz domain.Quiz, answers domain.Answers) error {
	known := make(map[string]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		known[q.ID] = struct{}{}
	}
	for questionID := range answers {
		if _, ok := known[questionID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
		}
	}
	return nil
}

// timeTaken uses the client-reported duration when positive. The result is
// capped at the time limit.
func timeTaken(attempt domain.Attempt, now time.Time, reported int) int {
	taken := reported
	if taken <= 0 {
		taken = int(now.Sub(attempt.StartedAt) / time.Second)
	}
	if taken < 0 {
		taken = 0
	}
	if attempt.Timed() && taken > attempt.TimeLimitSeconds {
		taken = attempt.TimeLimitSeconds
	}
	return taken
}
