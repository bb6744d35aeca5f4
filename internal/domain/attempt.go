package domain

import (
	"math"
	"time"
)

// AttemptStatus is the lifecycle state of an attempt. It only moves forward.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "NOT_STARTED"
	StatusInProgress AttemptStatus = "IN_PROGRESS"
	StatusSubmitted  AttemptStatus = "SUBMITTED"
	StatusPublished  AttemptStatus = "PUBLISHED"
)

// CanTransitionTo reports whether next is the single forward step from s.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusPublished
	}
	return false
}

// Final reports whether the attempt score is fixed.
func (s AttemptStatus) Final() bool {
	return s == StatusSubmitted || s == StatusPublished
}

// Answers maps question IDs to the raw answer given by the student.
type Answers map[string]string

// Clone returns a copy safe to hand to another goroutine.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Attempt is one student's single engagement with one quiz.
type Attempt struct {
	ID               string        `json:"id"`
	QuizID           string        `json:"quizId"`
	StudentID        string        `json:"studentId"`
	StudentName      string        `json:"studentName"`
	GroupSection     string        `json:"groupSection,omitempty"`
	Status           AttemptStatus `json:"status"`
	StartedAt        time.Time     `json:"startedAt"`
	SubmittedAt      *time.Time    `json:"submittedAt,omitempty"`
	TimeLimitSeconds int           `json:"timeLimitSeconds"`
	TimeTakenSeconds int           `json:"timeTakenSeconds,omitempty"`
	Answers          Answers       `json:"answers,omitempty"`
	ObtainedMarks    *int          `json:"obtainedMarks,omitempty"`
	TotalMarks       int           `json:"totalMarks"`
	Percentage       float64       `json:"percentage"`
	VisibleToStudent bool          `json:"visibleToStudent"`
}

// Timed reports whether the attempt has a countdown.
func (a Attempt) Timed() bool {
	return a.TimeLimitSeconds > 0
}

// RemainingSeconds is the time left on the attempt at now.
func (a Attempt) RemainingSeconds(now time.Time) int {
	if a.Status != StatusInProgress || !a.Timed() {
		return 0
	}
	return RemainingSeconds(now, a.StartedAt, a.TimeLimitSeconds)
}

// Deadline is the instant the attempt expires. Zero for untimed attempts.
func (a Attempt) Deadline() time.Time {
	if !a.Timed() {
		return time.Time{}
	}
	return a.StartedAt.Add(time.Duration(a.TimeLimitSeconds) * time.Second)
}

// Apply returns a copy of the attempt finalized with sub.
func (a Attempt) Apply(sub Submission) Attempt {
	submittedAt := sub.SubmittedAt
	obtained := sub.Score.ObtainedMarks
	a.Status = StatusSubmitted
	a.SubmittedAt = &submittedAt
	a.TimeTakenSeconds = sub.TimeTakenSeconds
	a.Answers = sub.Answers.Clone()
	a.ObtainedMarks = &obtained
	a.TotalMarks = sub.Score.TotalMarks
	a.Percentage = sub.Score.Percentage()
	a.VisibleToStudent = false
	return a
}

// Published returns a copy of the attempt released to the student.
func (a Attempt) Published() Attempt {
	a.Status = StatusPublished
	a.VisibleToStudent = true
	return a
}

// Result is the student-facing view. Score fields stay hidden until the
// teacher publishes.
func (a Attempt) Result() Attempt {
	if a.VisibleToStudent {
		return a
	}
	a.ObtainedMarks = nil
	a.Percentage = 0
	return a
}

// Submission carries everything Finalize writes onto an attempt.
type Submission struct {
	Answers          Answers
	Score            Score
	SubmittedAt      time.Time
	TimeTakenSeconds int
}

// Score is the grading outcome.
type Score struct {
	ObtainedMarks int `json:"obtainedMarks"`
	TotalMarks    int `json:"totalMarks"`
}

// Percentage rounds to two decimals; zero total yields zero.
func (s Score) Percentage() float64 {
	if s.TotalMarks <= 0 {
		return 0
	}
	return math.Round(float64(s.ObtainedMarks)/float64(s.TotalMarks)*10000) / 100
}

// RemainingSeconds computes the countdown from the stored start time, so a
// reconnecting client never sees a reset duration.
func RemainingSeconds(now, startedAt time.Time, timeLimitSeconds int) int {
	if timeLimitSeconds <= 0 {
		return 0
	}
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := timeLimitSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Student is the caller identity supplied by the auth layer.
type Student struct {
	ID    string
	Name  string
	Email string
	Group string
	Role  string
}

const (
	RoleStudent = "STUDENT"
	RoleTeacher = "TEACHER"
)

// IsTeacher reports whether the caller may use teacher-only operations.
func (s Student) IsTeacher() bool {
	return s.Role == RoleTeacher
}
