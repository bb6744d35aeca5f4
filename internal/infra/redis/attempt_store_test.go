package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func newAttempt(id, studentID, quizID string, startedAt time.Time) domain.Attempt {
	return domain.Attempt{
		ID:               id,
		QuizID:           quizID,
		StudentID:        studentID,
		StudentName:      "Student " + studentID,
		StartedAt:        startedAt,
		TimeLimitSeconds: 600,
		TotalMarks:       10,
	}
}

func TestAttemptStoreTryStartOnce(t *testing.T) {
	store := NewAttemptStore(newClient(newMiniredis(t)))
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.TryStart(ctx, newAttempt(fmt.Sprintf("a-%d", i), "s1", "quiz-1", start))
			if err == nil {
				winners.Add(1)
			} else if !errors.Is(err, domain.ErrAlreadyAttempted) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected one winner, got %d", winners.Load())
	}

	found, err := store.Find(ctx, "s1", "quiz-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Status != domain.StatusInProgress || !found.StartedAt.Equal(start) {
		t.Fatalf("unexpected stored attempt: %+v", found)
	}
}

func TestAttemptStoreLifecycle(t *testing.T) {
	mr := newMiniredis(t)
	store := NewAttemptStore(newClient(mr))
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.TryStart(ctx, newAttempt("a", "s1", "quiz-1", start)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.MarkPublished(ctx, "a"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	sub := domain.Submission{
		Answers:          domain.Answers{"q1": "o2"},
		Score:            domain.Score{ObtainedMarks: 4, TotalMarks: 10},
		SubmittedAt:      start.Add(2 * time.Minute),
		TimeTakenSeconds: 120,
	}
	final, err := store.Finalize(ctx, "a", sub)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.Status != domain.StatusSubmitted || *final.ObtainedMarks != 4 || final.Percentage != 40 {
		t.Fatalf("unexpected final attempt: %+v", final)
	}
	if _, err := store.Finalize(ctx, "a", sub); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second finalize to fail, got %v", err)
	}
	if ok, _ := mr.SIsMember(inProgressKey, "a"); ok {
		t.Fatalf("finalized attempt still indexed as in progress")
	}

	published, err := store.MarkPublished(ctx, "a")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.VisibleToStudent || published.Status != domain.StatusPublished {
		t.Fatalf("unexpected published attempt: %+v", published)
	}
	if _, err := store.MarkPublished(ctx, "a"); err != nil {
		t.Fatalf("second publish should be a no-op: %v", err)
	}

	stored, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Answers["q1"] != "o2" || stored.SubmittedAt == nil {
		t.Fatalf("stored attempt lost fields: %+v", stored)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Finalize(ctx, "missing", sub); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttemptStoreListings(t *testing.T) {
	store := NewAttemptStore(newClient(newMiniredis(t)))
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	_, _ = store.TryStart(ctx, newAttempt("b", "s2", "quiz-1", start.Add(time.Second)))
	_, _ = store.TryStart(ctx, newAttempt("a", "s1", "quiz-1", start))
	_, _ = store.TryStart(ctx, newAttempt("c", "s1", "quiz-2", start))
	_, _ = store.Finalize(ctx, "c", domain.Submission{SubmittedAt: start})

	byQuiz, err := store.ListByQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("list by quiz: %v", err)
	}
	if len(byQuiz) != 2 || byQuiz[0].ID != "a" || byQuiz[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", byQuiz)
	}
	byStudent, _ := store.ListByStudent(ctx, "s1")
	if len(byStudent) != 2 {
		t.Fatalf("expected two attempts for s1, got %d", len(byStudent))
	}
	inProgress, _ := store.ListInProgress(ctx)
	if len(inProgress) != 2 {
		t.Fatalf("expected two in-progress attempts, got %d", len(inProgress))
	}
	empty, _ := store.ListByQuiz(ctx, "quiz-9")
	if len(empty) != 0 {
		t.Fatalf("expected no attempts, got %d", len(empty))
	}
	finalized, err := store.ListFinalized(ctx)
	if err != nil {
		t.Fatalf("list finalized: %v", err)
	}
	if len(finalized) != 1 || finalized[0].ID != "c" {
		t.Fatalf("expected only c finalized, got %+v", finalized)
	}
}

func TestAttemptStorePairKeyWithColons(t *testing.T) {
	store := NewAttemptStore(newClient(newMiniredis(t)))
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.TryStart(ctx, newAttempt("a", "u:1", "x", start)); err != nil {
		t.Fatalf("start (u:1, x): %v", err)
	}
	if _, err := store.TryStart(ctx, newAttempt("b", "u", "1:x", start)); err != nil {
		t.Fatalf("start (u, 1:x) must not collide with (u:1, x): %v", err)
	}
	if _, err := store.TryStart(ctx, newAttempt("c", "u:1", "x", start)); !errors.Is(err, domain.ErrAlreadyAttempted) {
		t.Fatalf("expected already attempted, got %v", err)
	}

	found, err := store.Find(ctx, "u", "1:x")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != "b" {
		t.Fatalf("expected attempt b, got %s", found.ID)
	}
	found, err = store.Find(ctx, "u:1", "x")
	if err != nil || found.ID != "a" {
		t.Fatalf("expected attempt a, got %+v (%v)", found, err)
	}
}

func TestDraftStore(t *testing.T) {
	mr := newMiniredis(t)
	drafts := NewDraftStore(newClient(mr), time.Hour)
	ctx := context.Background()

	_ = drafts.Save(ctx, "a", domain.Answers{"q1": "o1", "q2": "true"})
	_ = drafts.Save(ctx, "a", domain.Answers{"q1": "o2"})

	got, err := drafts.Load(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["q1"] != "o2" || got["q2"] != "true" {
		t.Fatalf("unexpected draft: %v", got)
	}
	if mr.TTL(draftKey("a")) != time.Hour {
		t.Fatalf("expected draft ttl to be set")
	}

	_ = drafts.Clear(ctx, "a")
	if mr.Exists(draftKey("a")) {
		t.Fatalf("expected draft removed")
	}
}
