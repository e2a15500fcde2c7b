package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/quiz"
)

func NewRouter(service *quiz.Service, log logrus.FieldLogger) http.Handler {
	api := NewAPI(service, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(api.log, defaultMaxLogBytes))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.Get("/healthz", api.HandleHealth)
	r.Get("/chapters/{chapterID}/quiz", api.HandleChapterQuiz)
	r.Route("/quizzes", func(r chi.Router) {
		r.Post("/", api.HandleImportQuiz)
		r.Post("/{quizID}/submissions", api.HandleSubmit)
		r.Get("/{quizID}/submissions/{attemptID}", api.HandleGetSubmission)
	})

	return r
}
