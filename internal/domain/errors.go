package domain

import "errors"

var (
	// ErrAlreadyAttempted is returned when a student already has an attempt for a quiz.
	ErrAlreadyAttempted = errors.New("quiz already attempted")
	// ErrInvalidTransition indicates an attempt is not in the status the operation requires.
	ErrInvalidTransition = errors.New("invalid attempt status transition")
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidAnswer indicates a malformed answer payload.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrTimeUp is returned when answers arrive after the attempt deadline.
	ErrTimeUp = errors.New("attempt time is over")
	// ErrForbidden is returned when the caller may not act on an attempt.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTopic is returned for empty or unknown leaderboard topics.
	ErrInvalidTopic = errors.New("invalid leaderboard topic")
	// ErrSessionClosed is returned when subscribing a disconnected viewer session.
	ErrSessionClosed = errors.New("viewer session closed")
)
