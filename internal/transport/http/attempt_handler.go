package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

// AttemptHandler exposes the attempt lifecycle over REST.
type AttemptHandler struct {
	coordinator *app.SubmissionCoordinator
	log         *logger.Logger
}

func NewAttemptHandler(coordinator *app.SubmissionCoordinator, log *logger.Logger) *AttemptHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AttemptHandler{coordinator: coordinator, log: log.With("component", "AttemptHandler")}
}

type answersRequest struct {
	Answers domain.Answers `json:"answers"`
}

type submitRequest struct {
	Answers          domain.Answers `json:"answers"`
	TimeTakenSeconds int            `json:"timeTakenSeconds"`
}

func (h *AttemptHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	handle, err := h.coordinator.StartAttempt(r.Context(), caller, chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *AttemptHandler) Resume(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	handle, err := h.coordinator.Resume(r.Context(), caller.ID, chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *AttemptHandler) CheckAttempted(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	attempted, err := h.coordinator.CheckAttempted(r.Context(), caller.ID, chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"attempted": attempted})
}

func (h *AttemptHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid answers payload")
		return
	}
	caller := callerFrom(r.Context())
	handle, err := h.coordinator.SaveAnswers(r.Context(), chi.URLParam(r, "attemptID"), caller.ID, req.Answers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	// an empty body submits the saved draft
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid submit payload")
		return
	}
	attemptID := chi.URLParam(r, "attemptID")
	if _, err := h.owned(r, attemptID); err != nil {
		h.fail(w, r, err)
		return
	}

	final, err := h.coordinator.SubmitAttempt(r.Context(), attemptID, req.Answers, req.TimeTakenSeconds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, final.Result())
}

func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.owned(r, chi.URLParam(r, "attemptID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !callerFrom(r.Context()).IsTeacher() {
		attempt = attempt.Result()
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *AttemptHandler) MyAttempts(w http.ResponseWriter, r *http.Request) {
	visibleOnly, _ := strconv.ParseBool(r.URL.Query().Get("visibleOnly"))
	attempts, err := h.coordinator.StudentAttempts(r.Context(), callerFrom(r.Context()).ID, visibleOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *AttemptHandler) QuizAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.coordinator.QuizAttempts(r.Context(), chi.URLParam(r, "quizID"), r.URL.Query().Get("group"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *AttemptHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.coordinator.Leaderboard(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *AttemptHandler) GlobalLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	board, err := h.coordinator.GlobalLeaderboard(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *AttemptHandler) QuizStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coordinator.QuizStatistics(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AttemptHandler) MySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.coordinator.StudentSummary(r.Context(), callerFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AttemptHandler) PublishAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.coordinator.MarkPublished(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *AttemptHandler) PublishQuiz(w http.ResponseWriter, r *http.Request) {
	count, err := h.coordinator.PublishQuizResults(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"published": count})
}

// owned loads an attempt the caller may see: their own, or any for teachers.
func (h *AttemptHandler) owned(r *http.Request, attemptID string) (domain.Attempt, error) {
	attempt, err := h.coordinator.Attempt(r.Context(), attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	caller := callerFrom(r.Context())
	if attempt.StudentID != caller.ID && !caller.IsTeacher() {
		return domain.Attempt{}, domain.ErrForbidden
	}
	return attempt, nil
}

func (h *AttemptHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	var msg string
	switch {
	case errors.Is(err, domain.ErrAlreadyAttempted):
		msg = "You have already attempted this quiz."
	default:
		msg = err.Error()
	}
	writeError(w, status, msg)
}
