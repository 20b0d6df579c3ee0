// Package service holds the business rules of the questionnaire.
//
//	Handler (HTTP)      → parses requests, writes responses
//	Service (this)      → validates, authenticates, orchestrates
//	Repository (store)  → persists, enforces atomicity
//
// Services accept plain values (tokens, ids, text), never *http.Request, and
// return apperror kinds that the handler layer maps to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/proust-questionnaire/internal/apperror"
	"github.com/sakif/proust-questionnaire/internal/auth"
	"github.com/sakif/proust-questionnaire/internal/mailer"
	"github.com/sakif/proust-questionnaire/internal/metrics"
	"github.com/sakif/proust-questionnaire/internal/model"
	"github.com/sakif/proust-questionnaire/internal/questions"
	"github.com/sakif/proust-questionnaire/internal/ratelimit"
	"github.com/sakif/proust-questionnaire/internal/repository"
)

// DefaultMagicLinkTTL is how long an emailed link stays redeemable.
const DefaultMagicLinkTTL = 15 * time.Minute

// Client-facing messages. Deliberately identical across failure causes.
const (
	InvalidLinkMessage        = "invalid or expired link"
	InvalidCredentialsMessage = "invalid or expired credentials"
	InvalidEmailMessage       = "please provide a valid email address"
	RateLimitedMessage        = "too many requests, please try again later"
	UnsupportedScriptMessage  = "some answers use characters the PDF export cannot draw"
)

// ErrMailUnavailable is returned by RequestLink when the session was created
// but the mailer failed. The caller may simply retry.
var ErrMailUnavailable = errors.New("service: mail delivery failed")

// MagicLinkDeps are the collaborators of MagicLinkService. Limiter and
// Sealer are optional.
type MagicLinkDeps struct {
	Repo    repository.QuestionnaireRepository
	Links   repository.MagicLinkRepository
	Hasher  *auth.Hasher
	Creds   *auth.CredentialService
	Mailer  mailer.Mailer
	Limiter ratelimit.Limiter
	Sealer  *auth.EmailSealer
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// BaseURL is the public origin placed in front of /auth/verify.
	BaseURL string
	LinkTTL time.Duration
}

// MagicLinkService issues and redeems magic links.
type MagicLinkService struct {
	repo    repository.QuestionnaireRepository
	links   repository.MagicLinkRepository
	hasher  *auth.Hasher
	creds   *auth.CredentialService
	mailer  mailer.Mailer
	limiter ratelimit.Limiter
	sealer  *auth.EmailSealer
	metrics *metrics.Metrics
	logger  *slog.Logger
	baseURL string
	linkTTL time.Duration

	now      func() time.Time
	newToken func(byteLength int) (string, error)
	newRand  func() (*rand.Rand, error)
}

// NewMagicLinkService wires a MagicLinkService.
func NewMagicLinkService(d MagicLinkDeps) *MagicLinkService {
	ttl := d.LinkTTL
	if ttl <= 0 {
		ttl = DefaultMagicLinkTTL
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &MagicLinkService{
		repo:     d.Repo,
		links:    d.Links,
		hasher:   d.Hasher,
		creds:    d.Creds,
		mailer:   d.Mailer,
		limiter:  d.Limiter,
		sealer:   d.Sealer,
		metrics:  m,
		logger:   d.Logger,
		baseURL:  strings.TrimRight(d.BaseURL, "/"),
		linkTTL:  ttl,
		now:      time.Now,
		newToken: auth.GenerateToken,
		newRand:  questions.NewSessionRand,
	}
}

// LinkRequest is what RequestLink reports back to its caller. The HTTP layer
// returns none of it: the response to a link request is the same for every
// address.
type LinkRequest struct {
	// Credential binds the new session to the identity. The emailed URL cannot
	// carry it, so redemption issues a fresh one.
	Credential    string
	LinkExpiresAt time.Time
	Superseded    int64
}

// RequestLink starts a new questionnaire session for email and mails a link
// to it.
//
//  1. normalize and hash the address
//  2. throttle by address and client IP
//  3. create tokens and a shuffled question order
//  4. persist identity, supersession, session and link in one transaction
//  5. issue a credential for the new session
//  6. mail a URL carrying only the magic-link and resume tokens
//
// Invalid input is rejected before anything is written. A mail failure leaves
// the committed rows in place and returns ErrMailUnavailable.
func (s *MagicLinkService) RequestLink(ctx context.Context, email, clientIP string) (*LinkRequest, error) {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, apperror.ValidationFailed("email", InvalidEmailMessage)
	}
	emailHash, err := auth.HashEmail(normalized)
	if err != nil {
		return nil, apperror.ValidationFailed("email", InvalidEmailMessage)
	}
	if err := s.throttle(ctx, emailHash, clientIP); err != nil {
		return nil, err
	}

	var sealed string
	if s.sealer != nil {
		sealed, err = s.sealer.Seal(normalized)
		if err != nil {
			// The contact copy is optional; the session does not depend on it.
			s.logger.Warn("sealing email copy failed", slog.String("error", err.Error()))
			sealed = ""
		}
	}

	resumeToken, err := s.newToken(auth.MinTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("service: generating resume token: %w", err)
	}
	magicToken, err := s.newToken(auth.MinTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("service: generating magic-link token: %w", err)
	}
	rng, err := s.newRand()
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	order := questions.NewOrder(rng)

	now := s.now().UTC()
	sessionID := s.hasher.Hash(resumeToken)
	res, err := s.repo.StartSession(ctx, repository.StartSessionParams{
		EmailHash:      emailHash,
		EncryptedEmail: sealed,
		SessionID:      sessionID,
		QuestionOrder:  order,
		MagicLinkHash:  s.hasher.Hash(magicToken),
		MagicLinkTTL:   s.linkTTL,
		Now:            now,
	})
	if err != nil {
		s.logger.Error("starting session failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service: starting session: %w", err)
	}
	s.metrics.QuestionnairesStarted.Inc()
	if res.Superseded > 0 {
		s.metrics.SessionsSuperseded.Add(float64(res.Superseded))
		s.logger.Info("active session superseded", slog.Int64("count", res.Superseded))
	}

	credential, err := s.creds.Issue(emailHash, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("service: issuing credential: %w", err)
	}

	link := s.verifyURL(magicToken, resumeToken)
	if err := s.mailer.Send(ctx, normalized, link); err != nil {
		s.metrics.MagicLinkFailures.WithLabelValues(metrics.ReasonMail).Inc()
		s.logger.Error("sending magic link failed",
			slog.String("session", hashPrefix(sessionID)),
			slog.String("error", err.Error()),
		)
		return nil, ErrMailUnavailable
	}
	s.metrics.MagicLinksSent.Inc()

	s.logger.Info("magic link issued", slog.String("session", hashPrefix(sessionID)))

	return &LinkRequest{
		Credential:    credential,
		LinkExpiresAt: now.Add(s.linkTTL),
		Superseded:    res.Superseded,
	}, nil
}

// throttle applies the per-address and per-IP limits. Limiter errors fail
// open.
func (s *MagicLinkService) throttle(ctx context.Context, emailHash, clientIP string) error {
	if s.limiter == nil {
		return nil
	}
	keys := []string{"email:" + emailHash}
	if clientIP != "" {
		keys = append(keys, "ip:"+clientIP)
	}
	for _, key := range keys {
		allowed, err := s.limiter.Allow(ctx, key)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		}
		if !allowed {
			s.logger.Info("magic link request throttled", slog.String("key", strings.SplitN(key, ":", 2)[0]))
			return apperror.RateLimited(RateLimitedMessage)
		}
	}
	return nil
}

func (s *MagicLinkService) verifyURL(magicToken, resumeToken string) string {
	q := url.Values{}
	q.Set("token", magicToken)
	q.Set("resume", resumeToken)
	return s.baseURL + "/auth/verify?" + q.Encode()
}

// Verification is the result of a successful redemption.
type Verification struct {
	Credential string              `json:"credential"`
	ExpiresAt  time.Time           `json:"expiresAt"`
	Status     model.SessionStatus `json:"status"`
	Answered   int                 `json:"answered"`
	Total      int                 `json:"total"`
}

// VerifyLink redeems a magic link together with the resume token it was sent
// with and issues a credential for the session.
//
// The link is deleted before anything else is checked, so it is spent even
// when redemption fails. Every failure is ErrUnauthorized with the same
// message.
func (s *MagicLinkService) VerifyLink(ctx context.Context, magicToken, resumeToken string) (*Verification, error) {
	reject := func(reason string, attrs ...any) (*Verification, error) {
		s.metrics.MagicLinkFailures.WithLabelValues(reason).Inc()
		s.logger.Warn("magic link rejected", append([]any{slog.String("reason", reason)}, attrs...)...)
		return nil, apperror.Unauthorized(InvalidLinkMessage)
	}

	if magicToken == "" || resumeToken == "" {
		return reject(metrics.ReasonUnknown)
	}

	link, err := s.links.ConsumeMagicLink(ctx, s.hasher.Hash(magicToken))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return reject(metrics.ReasonUnknown)
		}
		return nil, fmt.Errorf("service: consuming magic link: %w", err)
	}
	if link.Expired(s.now()) {
		return reject(metrics.ReasonExpired)
	}

	sessionID := s.hasher.Hash(resumeToken)
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return reject(metrics.ReasonMismatch)
		}
		return nil, fmt.Errorf("service: loading session: %w", err)
	}
	if !auth.ConstantTimeEqual(session.EmailHash, link.EmailHash) {
		return reject(metrics.ReasonMismatch, slog.String("session", hashPrefix(sessionID)))
	}
	if session.Status == model.SessionSuperseded {
		return reject(metrics.ReasonMismatch, slog.String("session", hashPrefix(sessionID)))
	}

	credential, err := s.creds.Issue(session.EmailHash, session.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("service: issuing credential: %w", err)
	}
	answers, err := s.repo.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("service: loading answers: %w", err)
	}

	s.metrics.MagicLinksVerified.Inc()
	s.logger.Info("magic link verified", slog.String("session", hashPrefix(sessionID)))

	return &Verification{
		Credential: credential,
		ExpiresAt:  s.now().UTC().Add(s.creds.TTL()),
		Status:     session.Status,
		Answered:   len(answers),
		Total:      len(session.QuestionOrder),
	}, nil
}

// hashPrefix shortens a session id for logs. Session ids are keyed HMACs of
// the resume token. Email hashes are unkeyed and are never logged.
func hashPrefix(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
