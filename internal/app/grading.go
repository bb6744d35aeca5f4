package app

import (
	"context"
	"fmt"
	"strings"

	"quiz-attempt-service/internal/domain"
)

// QuizGrader is the default Grader: one pass over the quiz, awarding the
// question weight for every correct answer.
type QuizGrader struct{}

func NewQuizGrader() QuizGrader {
	return QuizGrader{}
}

func (QuizGrader) Score(_ context.Context, quiz domain.Quiz, answers domain.Answers) (domain.Score, error) {
	index := make(map[string]*domain.Question, len(quiz.Questions))
	for i := range quiz.Questions {
		index[quiz.Questions[i].ID] = &quiz.Questions[i]
	}
	for questionID := range answers {
		if _, ok := index[questionID]; !ok {
			return domain.Score{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
		}
	}

	obtained := 0
	for i := range quiz.Questions {
		question := &quiz.Questions[i]
		answer, ok := answers[question.ID]
		if !ok {
			continue
		}
		if isCorrect(question, answer) {
			obtained += question.Marks()
		}
	}

	total := quiz.MaxMarks()
	if obtained > total {
		obtained = total
	}
	return domain.Score{ObtainedMarks: obtained, TotalMarks: total}, nil
}

// isCorrect validates a raw answer against the question by type.
func isCorrect(question *domain.Question, answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}

	switch strings.ToUpper(question.Type) {
	case domain.QuestionTrueFalse, domain.QuestionFillInBlank:
		return question.CorrectAnswer != "" && strings.EqualFold(strings.TrimSpace(question.CorrectAnswer), answer)
	default:
		// Multiple choice: clients may send the option ID or its text.
		for _, opt := range question.Options {
			if !opt.Correct {
				continue
			}
			if opt.ID == answer || opt.Text == answer {
				return true
			}
		}
		return false
	}
}
