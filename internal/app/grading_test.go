package app_test

import (
	"context"
	"errors"
	"testing"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func TestQuizGraderScoresByQuestionType(t *testing.T) {
	grader := app.NewQuizGrader()
	quiz := sampleQuiz(600)

	score, err := grader.Score(context.Background(), quiz, domain.Answers{
		"q1": "o2",     // correct option id
		"q2": " TRUE ", // case-insensitive, trimmed
		"q3": "Lyon",   // wrong
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.ObtainedMarks != 3 || score.TotalMarks != 6 {
		t.Fatalf("expected 3/6, got %+v", score)
	}
	if score.Percentage() != 50 {
		t.Fatalf("expected 50%%, got %v", score.Percentage())
	}
}

func TestQuizGraderAcceptsOptionText(t *testing.T) {
	score, err := app.NewQuizGrader().Score(context.Background(), sampleQuiz(600), domain.Answers{"q1": "4"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.ObtainedMarks != 1 {
		t.Fatalf("expected option text to match, got %+v", score)
	}
}

func TestQuizGraderEmptyAnswers(t *testing.T) {
	score, err := app.NewQuizGrader().Score(context.Background(), sampleQuiz(600), nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.ObtainedMarks != 0 || score.TotalMarks != 6 {
		t.Fatalf("expected 0/6, got %+v", score)
	}
}

func TestQuizGraderRejectsUnknownQuestion(t *testing.T) {
	_, err := app.NewQuizGrader().Score(context.Background(), sampleQuiz(600), domain.Answers{"nope": "x"})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestQuizGraderUsesConfiguredTotal(t *testing.T) {
	quiz := sampleQuiz(600)
	quiz.TotalMarks = 10
	score, err := app.NewQuizGrader().Score(context.Background(), quiz, domain.Answers{"q3": "Paris"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.ObtainedMarks != 3 || score.TotalMarks != 10 {
		t.Fatalf("expected 3/10, got %+v", score)
	}
}
