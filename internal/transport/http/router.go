package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"quiz-attempt-service/internal/pkg/logger"
)

// NewRouter mounts the REST API and the leaderboard WebSocket.
func NewRouter(log *logger.Logger, auth *Authenticator, attempts *AttemptHandler, ws *WSHandler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ws/leaderboard", ws.ServeWS)
		r.Get("/api/leaderboard", attempts.GlobalLeaderboard)

		r.Route("/api/quizzes/{quizID}", func(r chi.Router) {
			r.Post("/attempts", attempts.StartAttempt)
			r.Get("/attempts/mine", attempts.Resume)
			r.Get("/attempted", attempts.CheckAttempted)
			r.Get("/leaderboard", attempts.Leaderboard)
			r.With(RequireTeacher).Get("/attempts", attempts.QuizAttempts)
			r.With(RequireTeacher).Get("/statistics", attempts.QuizStatistics)
			r.With(RequireTeacher).Post("/publish", attempts.PublishQuiz)
		})

		r.Route("/api/attempts", func(r chi.Router) {
			r.Get("/mine", attempts.MyAttempts)
			r.Get("/summary", attempts.MySummary)
			r.Get("/{attemptID}", attempts.GetAttempt)
			r.Put("/{attemptID}/answers", attempts.SaveAnswers)
			r.Post("/{attemptID}/submit", attempts.Submit)
			r.With(RequireTeacher).Post("/{attemptID}/publish", attempts.PublishAttempt)
		})
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestID", middleware.GetReqID(r.Context()),
			)
		})
	}
}
