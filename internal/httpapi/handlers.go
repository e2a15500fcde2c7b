package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"chapter-quiz/internal/quiz"
)

func (a *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// HandleChapterQuiz returns the full definition, correct answers included:
// the session grades locally and keeps working when submission fails.
func (a *API) HandleChapterQuiz(w http.ResponseWriter, r *http.Request) {
	if a.service == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quiz service unavailable"})
		return
	}

	chapterID := strings.TrimSpace(chi.URLParam(r, "chapterID"))
	createIfMissing := parseBoolParam(r, "create_if_missing")
	questionCount, err := parseIntParam(r, "question_count", defaultQuestionCount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	def, err := a.service.GetChapterQuiz(r.Context(), chapterID, createIfMissing, questionCount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (a *API) HandleImportQuiz(w http.ResponseWriter, r *http.Request) {
	if a.service == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quiz service unavailable"})
		return
	}

	var def quiz.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	imported, err := a.service.ImportQuiz(r.Context(), def)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, imported)
}

func (a *API) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if a.service == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quiz service unavailable"})
		return
	}

	var request quiz.SubmissionRequest
	if err := decodeJSON(r, &request); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	submission, err := a.service.SubmitAttempt(r.Context(), chi.URLParam(r, "quizID"), request)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submission)
}

func (a *API) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if a.service == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quiz service unavailable"})
		return
	}

	submission, err := a.service.GetSubmission(r.Context(), chi.URLParam(r, "quizID"), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submission)
}
