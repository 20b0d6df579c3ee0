package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/auth"
	"github.com/sakif/proust-questionnaire/internal/service"
)

// QuestionnaireHandler serves the authenticated questionnaire endpoints and
// the public share view.
//
// Every authenticated route sits behind auth.RequireSessionAuth, which
// guarantees both halves of the dual credential are present. Whether they
// are valid and agree is decided by the service.
type QuestionnaireHandler struct {
	quiz   *service.QuestionnaireService
	logger *slog.Logger
}

// NewQuestionnaireHandler creates a QuestionnaireHandler.
func NewQuestionnaireHandler(quiz *service.QuestionnaireService, logger *slog.Logger) *QuestionnaireHandler {
	return &QuestionnaireHandler{quiz: quiz, logger: logger}
}

// sessionAuth pulls the pair stored by RequireSessionAuth.
func sessionAuth(r *http.Request) (auth.SessionAuth, error) {
	sa, ok := auth.SessionAuthFromContext(r.Context())
	if !ok {
		return auth.SessionAuth{}, apperror.Unauthorized(service.InvalidCredentialsMessage)
	}
	return sa, nil
}

// HandleCurrent returns the next question or the completion state.
//
// HTTP: GET /api/questionnaire/current
func (h *QuestionnaireHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.quiz.CurrentQuestion(r.Context(), sa.ResumeToken, sa.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// submitAnswerRequest uses a pointer for questionId so a missing field is
// distinguishable from question 0.
type submitAnswerRequest struct {
	QuestionID *int   `json:"questionId"`
	Answer     string `json:"answer"`
}

// HandleSubmitAnswer records one answer.
//
// HTTP: POST /api/questionnaire/answers  {"questionId": 12, "answer": "..."}
// Returns 201 with the new progress.
func (h *QuestionnaireHandler) HandleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req submitAnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.QuestionID == nil {
		writeError(w, apperror.ValidationFailed("questionId", "questionId is required"))
		return
	}

	p, err := h.quiz.SubmitAnswer(r.Context(), sa.ResumeToken, sa.Credential, *req.QuestionID, req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type answersResponse struct {
	Answers []service.AnsweredQuestion `json:"answers"`
}

// HandleListAnswers returns the answers given so far in session order.
//
// HTTP: GET /api/questionnaire/answers
func (h *QuestionnaireHandler) HandleListAnswers(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	answers, err := h.quiz.ListAnswers(r.Context(), sa.ResumeToken, sa.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answersResponse{Answers: answers})
}

type sharingRequest struct {
	Shared *bool `json:"shared"`
}

// HandleSetSharing turns the public share link on or off.
//
// HTTP: PUT /api/questionnaire/sharing  {"shared": true}
func (h *QuestionnaireHandler) HandleSetSharing(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req sharingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Shared == nil {
		writeError(w, apperror.ValidationFailed("shared", "shared is required"))
		return
	}

	sharing, err := h.quiz.SetSharing(r.Context(), sa.ResumeToken, sa.Credential, *req.Shared)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sharing)
}

// HandleExportPDF downloads the completed questionnaire.
//
// HTTP: GET /api/questionnaire/export.pdf
func (h *QuestionnaireHandler) HandleExportPDF(w http.ResponseWriter, r *http.Request) {
	sa, err := sessionAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pdf, err := h.quiz.ExportPDF(r.Context(), sa.ResumeToken, sa.Credential)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="proust-questionnaire.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		h.logger.Warn("writing export failed", slog.String("error", err.Error()))
	}
}

// HandleShared returns a shared questionnaire. No authentication.
//
// HTTP: GET /api/share/{shareId}
func (h *QuestionnaireHandler) HandleShared(w http.ResponseWriter, r *http.Request) {
	shared, err := h.quiz.GetShared(r.Context(), chi.URLParam(r, "shareId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shared)
}
