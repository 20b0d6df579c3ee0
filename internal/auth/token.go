// Package auth holds the passwordless session primitives: opaque token
// generation, keyed token hashing, email hashing and sealing, and the
// short-lived signed credential that binds an emailHash to a session id.
//
// KEY SEPARATION:
// Two independent secrets are in play. The Hasher key turns a raw resume or
// magic-link token into its stored lookup id. The CredentialService key signs
// credentials. Neither is ever derived from request data, and neither value
// leaves the process (not logged, not returned).
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinTokenBytes is the smallest entropy accepted for any opaque token (256 bits).
const MinTokenBytes = 32

// MinSecretBytes is the minimum length of an operator-provided HMAC secret.
const MinSecretBytes = 32

// randRead is the entropy source. Tests swap it to simulate failure.
var randRead = rand.Read

// GenerateToken returns byteLength random bytes encoded as unpadded base64url.
//
// An entropy failure is returned as an error and must abort the caller's
// operation. It is never retried or papered over with a weaker source.
func GenerateToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", fmt.Errorf("auth: token length %d below minimum %d bytes", byteLength, MinTokenBytes)
	}
	buf := make([]byte, byteLength)
	if _, err := randRead(buf); err != nil {
		return "", fmt.Errorf("auth: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hasher derives unlinkable lookup ids from opaque tokens with
// HMAC-SHA256(secret, token). The stored id alone cannot be turned back into
// a token, and without the secret it cannot be recomputed from one either.
type Hasher struct {
	secret []byte
}

// NewHasher creates a Hasher. The secret must be at least MinSecretBytes long.
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) < MinSecretBytes {
		return nil, errors.New("auth: token secret must be at least 32 bytes")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Hasher{secret: key}, nil
}

// Hash returns the hex-encoded HMAC of token. Deterministic for a given secret.
func (h *Hasher) Hash(token string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC of candidate and compares it with storedHash in
// constant time.
func (h *Hasher) Verify(candidate, storedHash string) bool {
	return ConstantTimeEqual(h.Hash(candidate), storedHash)
}

// ConstantTimeEqual compares two strings without an early exit on the first
// differing byte.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// String keeps the key out of any accidental %v / slog output.
func (h *Hasher) String() string { return "auth.Hasher{secret:redacted}" }
