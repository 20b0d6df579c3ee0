package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the "iss" claim stamped on every credential.
const Issuer = "proust-questionnaire"

// DefaultCredentialTTL keeps one sitting uninterrupted while still forcing a
// fresh magic link every day.
const DefaultCredentialTTL = 24 * time.Hour

var (
	// ErrCredentialExpired is returned for well-formed credentials past expiry.
	ErrCredentialExpired = errors.New("auth: credential expired")
	// ErrCredentialInvalid covers bad signatures, wrong algorithms and
	// malformed or incomplete claims.
	ErrCredentialInvalid = errors.New("auth: credential invalid")
)

// Credential is the verified content of a signed credential. It carries the
// emailHash and the session id, never the plaintext email.
type Credential struct {
	EmailHash string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialService signs and verifies credentials with HS256.
//
// The signing key must differ from the Hasher key so that the proof of an
// identity claim and the proof of a session are independent.
type CredentialService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentialService creates a CredentialService. ttl <= 0 selects
// DefaultCredentialTTL.
func NewCredentialService(secret []byte, ttl time.Duration) (*CredentialService, error) {
	if len(secret) < MinSecretBytes {
		return nil, errors.New("auth: credential secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &CredentialService{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the default lifetime applied by Issue when ttl <= 0.
func (s *CredentialService) TTL() time.Duration { return s.ttl }

// credentialClaims is the JWT payload. "sub" is the emailHash; "sid" is the
// HMAC-derived session id.
type credentialClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issue signs a credential for emailHash and sessionID valid for ttl
// (ttl <= 0 uses the service default).
func (s *CredentialService) Issue(emailHash, sessionID string, ttl time.Duration) (string, error) {
	if emailHash == "" || sessionID == "" {
		return "", errors.New("auth: credential needs emailHash and sessionID")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()

	c := credentialClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   emailHash,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing credential: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry, and returns the
// bound emailHash and session id. Expired credentials are rejected, never
// extended.
func (s *CredentialService) Verify(signed string) (*Credential, error) {
	token, err := jwt.ParseWithClaims(
		signed,
		&credentialClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}

	c, ok := token.Claims.(*credentialClaims)
	if !ok || !token.Valid {
		return nil, ErrCredentialInvalid
	}
	if c.Subject == "" || c.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrCredentialInvalid)
	}

	cred := &Credential{
		EmailHash: c.Subject,
		SessionID: c.SessionID,
	}
	if c.IssuedAt != nil {
		cred.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		cred.ExpiresAt = c.ExpiresAt.Time
	}
	return cred, nil
}
