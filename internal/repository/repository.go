// Package repository declares the persistence contracts used by the service
// layer. The sqlite subpackage implements them.
//
// Every multi-row change the services need is a single method here so the
// implementation can make it atomic.
package repository

import (
	"context"
	"time"

	"github.com/sakif/proust-questionnaire/internal/model"
)

// StartSessionParams carries everything the magic-link issuer persists in
// one transaction.
type StartSessionParams struct {
	EmailHash      string
	EncryptedEmail string // optional; empty keeps any stored copy
	SessionID      string
	QuestionOrder  []int
	MagicLinkHash  string
	MagicLinkTTL   time.Duration
	Now            time.Time
}

// StartSessionResult reports side effects of StartSession.
type StartSessionResult struct {
	// Superseded is the number of previously active sessions closed.
	Superseded int64
}

// RecordAnswerResult reports the effect of RecordAnswer.
type RecordAnswerResult struct {
	// Completed is true only for the single call that moved the session
	// from active to completed.
	Completed bool
	Answered  int
}

// QuestionnaireRepository persists identities, sessions, question orders and
// answers.
type QuestionnaireRepository interface {
	// StartSession upserts the identity, supersedes its active session,
	// inserts the new session with its question order, drops older pending
	// magic links for the identity and inserts the new one. All or nothing.
	StartSession(ctx context.Context, p StartSessionParams) (*StartSessionResult, error)

	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionByShareID(ctx context.Context, shareID string) (*model.Session, error)
	GetIdentity(ctx context.Context, emailHash string) (*model.Identity, error)
	ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error)

	// RecordAnswer inserts the answer and, when it is the last one, completes
	// the session and increments the identity's completion count. Returns
	// apperror.ErrConflict for a duplicate (session, question) or a session
	// that is not active.
	RecordAnswer(ctx context.Context, answer *model.Answer, now time.Time) (*RecordAnswerResult, error)

	// SetSharing toggles sharing on a completed session. shareID is stored
	// only if the session has none yet.
	SetSharing(ctx context.Context, sessionID string, shared bool, shareID string, now time.Time) (*model.Session, error)
}

// MagicLinkRepository manages single-use magic-link tokens.
type MagicLinkRepository interface {
	// ConsumeMagicLink deletes the link and returns it. The delete is the
	// success check: of two concurrent calls at most one gets a row.
	ConsumeMagicLink(ctx context.Context, tokenHash string) (*model.MagicLink, error)

	// DeleteExpiredMagicLinks removes links whose expiry is at or before now.
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error)
}

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
