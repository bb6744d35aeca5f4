package domain

import (
	"testing"
	"time"
)

func TestRemainingSecondsRecomputedFromStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		now   time.Time
		limit int
		want  int
	}{
		{"at start", start, 600, 600},
		{"mid attempt", start.Add(250 * time.Second), 600, 350},
		{"sub-second elapsed floors", start.Add(1500 * time.Millisecond), 600, 599},
		{"expired", start.Add(11 * time.Minute), 600, 0},
		{"clock behind start", start.Add(-5 * time.Second), 600, 600},
		{"untimed", start.Add(time.Minute), 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RemainingSeconds(tc.now, start, tc.limit); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestStatusOnlyMovesForward(t *testing.T) {
	if !StatusInProgress.CanTransitionTo(StatusSubmitted) {
		t.Fatalf("expected IN_PROGRESS -> SUBMITTED")
	}
	if !StatusSubmitted.CanTransitionTo(StatusPublished) {
		t.Fatalf("expected SUBMITTED -> PUBLISHED")
	}
	if StatusSubmitted.CanTransitionTo(StatusSubmitted) {
		t.Fatalf("SUBMITTED must not repeat")
	}
	if StatusPublished.CanTransitionTo(StatusSubmitted) {
		t.Fatalf("PUBLISHED must not move back")
	}
	if StatusInProgress.CanTransitionTo(StatusPublished) {
		t.Fatalf("IN_PROGRESS must not skip SUBMITTED")
	}
}

func TestResultHidesScoreUntilPublished(t *testing.T) {
	a := Attempt{ID: "a1", Status: StatusInProgress, TimeLimitSeconds: 60}
	a = a.Apply(Submission{
		Answers:     Answers{"q1": "x"},
		Score:       Score{ObtainedMarks: 3, TotalMarks: 4},
		SubmittedAt: time.Now(),
	})
	if a.Status != StatusSubmitted || a.Percentage != 75 {
		t.Fatalf("unexpected finalized attempt %+v", a)
	}
	if hidden := a.Result(); hidden.ObtainedMarks != nil || hidden.Percentage != 0 {
		t.Fatalf("expected score hidden before publish, got %+v", hidden)
	}
	published := a.Published()
	if res := published.Result(); res.ObtainedMarks == nil || *res.ObtainedMarks != 3 {
		t.Fatalf("expected score visible after publish, got %+v", res)
	}
}

func TestQuizTopicRoundTrip(t *testing.T) {
	id, ok := QuizIDFromTopic(QuizTopic("quiz-1"))
	if !ok || id != "quiz-1" {
		t.Fatalf("expected quiz-1, got %q ok=%v", id, ok)
	}
	if _, ok := QuizIDFromTopic(GlobalTopic); ok {
		t.Fatalf("global topic is not quiz scoped")
	}
}

func TestNewScoreStats(t *testing.T) {
	scored := func(marks int) Attempt { return Attempt{ObtainedMarks: &marks} }

	stats := NewScoreStats([]Attempt{scored(3), scored(5), {}, scored(4), scored(5)})
	want := ScoreStats{TotalAttempts: 4, AverageScore: 4.25, HighestScore: 5, LowestScore: 3}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	if empty := NewScoreStats(nil); empty != (ScoreStats{}) {
		t.Fatalf("expected zero stats, got %+v", empty)
	}

	third := NewScoreStats([]Attempt{scored(1), scored(1), scored(2)})
	if third.AverageScore != 1.33 {
		t.Fatalf("expected average rounded to 1.33, got %v", third.AverageScore)
	}
}
