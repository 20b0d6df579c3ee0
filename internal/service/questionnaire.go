package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/auth"
	"github.com/sakif/proust-questionnaire/internal/export"
	"github.com/sakif/proust-questionnaire/internal/metrics"
	"github.com/sakif/proust-questionnaire/internal/model"
	"github.com/sakif/proust-questionnaire/internal/questions"
	"github.com/sakif/proust-questionnaire/internal/repository"
)

// DocumentRenderer turns a completed questionnaire into a document.
type DocumentRenderer interface {
	Render(w io.Writer, doc export.Document) error
}

// QuestionnaireService serves questions and records answers for a session
// proven by both a resume token and a credential.
type QuestionnaireService struct {
	repo     repository.QuestionnaireRepository
	hasher   *auth.Hasher
	creds    *auth.CredentialService
	renderer DocumentRenderer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	now        func() time.Time
	newShareID func() string
}

// NewQuestionnaireService wires a QuestionnaireService. renderer may be nil,
// in which case ExportPDF reports an error.
func NewQuestionnaireService(
	repo repository.QuestionnaireRepository,
	hasher *auth.Hasher,
	creds *auth.CredentialService,
	renderer DocumentRenderer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *QuestionnaireService {
	if m == nil {
		m = metrics.New()
	}
	return &QuestionnaireService{
		repo:       repo,
		hasher:     hasher,
		creds:      creds,
		renderer:   renderer,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		newShareID: uuid.NewString,
	}
}

// Progress is the state of a session as seen by its participant. Question is
// nil once the session is completed.
type Progress struct {
	Status      model.SessionStatus `json:"status"`
	Answered    int                 `json:"answered"`
	Total       int                 `json:"total"`
	Position    int                 `json:"position"`
	Question    *questions.Question `json:"question,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// AnsweredQuestion pairs an answer with its question and session position.
type AnsweredQuestion struct {
	Position   int       `json:"position"`
	QuestionID int       `json:"questionId"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Sequence   int       `json:"sequence"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// Sharing is the sharing state of a completed session.
type Sharing struct {
	IsShared bool   `json:"isShared"`
	ShareID  string `json:"shareId,omitempty"`
}

// SharedQuestionnaire is the public, read-only view of a shared session.
type SharedQuestionnaire struct {
	CompletedAt *time.Time         `json:"completedAt"`
	Answers     []AnsweredQuestion `json:"answers"`
}

// authenticate performs the dual check: the credential must verify, the
// resume token must hash to the session id the credential names, and the
// session must belong to the credential's identity. Superseded sessions no
// longer authenticate.
func (s *QuestionnaireService) authenticate(ctx context.Context, resumeToken, credential string) (*model.Session, error) {
	denied := apperror.Unauthorized(InvalidCredentialsMessage)
	if resumeToken == "" || credential == "" {
		return nil, denied
	}

	cred, err := s.creds.Verify(credential)
	if err != nil {
		s.logger.Info("credential rejected", slog.String("error", err.Error()))
		return nil, denied
	}
	if !s.hasher.Verify(resumeToken, cred.SessionID) {
		// Either value may have been tampered with. Log only one-way ids.
		s.logger.Warn("resume token does not match credential",
			slog.String("session", hashPrefix(cred.SessionID)),
		)
		return nil, denied
	}

	session, err := s.repo.GetSession(ctx, cred.SessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, denied
		}
		return nil, fmt.Errorf("service: loading session: %w", err)
	}
	if !auth.ConstantTimeEqual(session.EmailHash, cred.EmailHash) {
		s.logger.Warn("credential identity does not own session", slog.String("session", hashPrefix(session.ID)))
		return nil, denied
	}
	if session.Status == model.SessionSuperseded {
		s.logger.Info("superseded session used", slog.String("session", hashPrefix(session.ID)))
		return nil, denied
	}
	return session, nil
}

// CurrentQuestion returns the lowest-position unanswered question of the
// stored order, or the completion state.
func (s *QuestionnaireService) CurrentQuestion(ctx context.Context, resumeToken, credential string) (*Progress, error) {
	session, err := s.authenticate(ctx, resumeToken, credential)
	if err != nil {
		return nil, err
	}
	return s.progress(ctx, session)
}

func (s *QuestionnaireService) progress(ctx context.Context, session *model.Session) (*Progress, error) {
	answers, err := s.repo.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("service: loading answers: %w", err)
	}

	p := &Progress{
		Status:      session.Status,
		Answered:    len(answers),
		Total:       len(session.QuestionOrder),
		CompletedAt: session.CompletedAt,
	}
	if session.IsCompleted() {
		p.Position = p.Total
		return p, nil
	}

	answered := make(map[int]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}
	pos, qid, ok := questions.NextUnanswered(session.QuestionOrder, answered)
	if !ok {
		// Every question answered but the row is still active: only possible
		// if completion failed mid-way. Report as complete without a question.
		p.Position = p.Total
		return p, nil
	}
	q, err := questions.Get(qid)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	p.Position = pos
	p.Question = &q
	return p, nil
}

// SubmitAnswer validates and records an answer to questionID, completing the
// session when it is the last one, and returns the new progress.
//
// Answering the same question twice, or answering in a completed session, is
// a conflict. The stored answer is never overwritten.
func (s *QuestionnaireService) SubmitAnswer(ctx context.Context, resumeToken, credential string, questionID int, text string) (*Progress, error) {
	session, err := s.authenticate(ctx, resumeToken, credential)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, apperror.Conflict("questionnaire already completed")
	}
	if !inOrder(session.QuestionOrder, questionID) {
		return nil, apperror.ValidationFailed("questionId", InvalidResponseMessage)
	}
	cleaned, err := ValidateAnswer(text)
	if err != nil {
		return nil, err
	}

	answer := &model.Answer{
		SessionID:  session.ID,
		QuestionID: questionID,
		Text:       cleaned,
	}
	res, err := s.repo.RecordAnswer(ctx, answer, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrValidation) {
			return nil, err
		}
		s.logger.Error("recording answer failed",
			slog.String("session", hashPrefix(session.ID)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service: recording answer: %w", err)
	}
	s.metrics.QuestionsAnswered.Inc()

	if res.Completed {
		s.metrics.QuestionnairesComplete.Inc()
		s.logger.Info("questionnaire completed", slog.String("session", hashPrefix(session.ID)))
	}

	// reload for the new status and completedAt
	session, err = s.repo.GetSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("service: reloading session: %w", err)
	}
	return s.progress(ctx, session)
}

func inOrder(order []int, questionID int) bool {
	for _, id := range order {
		if id == questionID {
			return true
		}
	}
	return false
}

// ListAnswers returns the session's answers sorted by position in the
// session's order.
func (s *QuestionnaireService) ListAnswers(ctx context.Context, resumeToken, credential string) ([]AnsweredQuestion, error) {
	session, err := s.authenticate(ctx, resumeToken, credential)
	if err != nil {
		return nil, err
	}
	return s.answeredQuestions(ctx, session)
}

func (s *QuestionnaireService) answeredQuestions(ctx context.Context, session *model.Session) ([]AnsweredQuestion, error) {
	answers, err := s.repo.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("service: loading answers: %w", err)
	}
	byQuestion := make(map[int]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	out := make([]AnsweredQuestion, 0, len(answers))
	for pos, qid := range session.QuestionOrder {
		a, ok := byQuestion[qid]
		if !ok {
			continue
		}
		q, err := questions.Get(qid)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		out = append(out, AnsweredQuestion{
			Position:   pos,
			QuestionID: qid,
			Question:   q.Text,
			Answer:     a.Text,
			Sequence:   a.Sequence,
			AnsweredAt: a.CreatedAt,
		})
	}
	return out, nil
}

// SetSharing turns public sharing of a completed session on or off. The
// share id is assigned on first share and kept afterwards.
func (s *QuestionnaireService) SetSharing(ctx context.Context, resumeToken, credential string, shared bool) (*Sharing, error) {
	session, err := s.authenticate(ctx, resumeToken, credential)
	if err != nil {
		return nil, err
	}
	if !session.IsCompleted() {
		return nil, apperror.Conflict("only completed questionnaires can be shared")
	}

	shareID := ""
	if shared && session.ShareID == "" {
		shareID = s.newShareID()
	}
	updated, err := s.repo.SetSharing(ctx, session.ID, shared, shareID, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service: updating sharing: %w", err)
	}

	s.logger.Info("sharing updated",
		slog.String("session", hashPrefix(session.ID)),
		slog.Bool("shared", updated.IsShared),
	)
	result := &Sharing{IsShared: updated.IsShared}
	if updated.IsShared {
		result.ShareID = updated.ShareID
	}
	return result, nil
}

// GetShared returns the public view of a shared, completed session. Unknown,
// unshared and malformed ids all look the same to the caller.
func (s *QuestionnaireService) GetShared(ctx context.Context, shareID string) (*SharedQuestionnaire, error) {
	notFound := apperror.NotFound("share", shareID)
	if _, err := uuid.Parse(shareID); err != nil {
		return nil, notFound
	}

	session, err := s.repo.GetSessionByShareID(ctx, shareID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("service: loading shared session: %w", err)
	}
	if !session.IsShared || !session.IsCompleted() {
		return nil, notFound
	}

	answers, err := s.answeredQuestions(ctx, session)
	if err != nil {
		return nil, err
	}
	return &SharedQuestionnaire{CompletedAt: session.CompletedAt, Answers: answers}, nil
}

// ExportPDF renders a completed session as a PDF.
func (s *QuestionnaireService) ExportPDF(ctx context.Context, resumeToken, credential string) ([]byte, error) {
	session, err := s.authenticate(ctx, resumeToken, credential)
	if err != nil {
		return nil, err
	}
	if !session.IsCompleted() {
		return nil, apperror.Conflict("questionnaire is not complete")
	}
	if s.renderer == nil {
		return nil, errors.New("service: no document renderer configured")
	}

	answers, err := s.answeredQuestions(ctx, session)
	if err != nil {
		return nil, err
	}
	doc := export.Document{
		Title:   "Proust Questionnaire",
		Entries: make([]export.Entry, 0, len(answers)),
	}
	if session.CompletedAt != nil {
		doc.CompletedAt = *session.CompletedAt
	}
	for _, a := range answers {
		doc.Entries = append(doc.Entries, export.Entry{Question: a.Question, Answer: a.Answer})
	}

	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, doc); err != nil {
		if errors.Is(err, export.ErrMissingGlyph) {
			s.logger.Warn("export font cannot draw answers",
				slog.String("session", hashPrefix(session.ID)),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Conflict(UnsupportedScriptMessage)
		}
		s.logger.Error("rendering export failed",
			slog.String("session", hashPrefix(session.ID)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service: rendering export: %w", err)
	}
	return buf.Bytes(), nil
}
