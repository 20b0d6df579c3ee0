package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"filippo.io/age"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidEmail is returned for addresses that do not parse as a single
// bare mailbox.
var ErrInvalidEmail = errors.New("auth: invalid email address")

// maxEmailLength follows the SMTP path limit.
const maxEmailLength = 254

// NormalizeEmail validates email and returns its canonical form: NFC,
// trimmed, lowercased. Any script is accepted in the local part and domain.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(norm.NFC.String(email)))
	if normalized == "" || len(normalized) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(normalized)
	if err != nil {
		return "", ErrInvalidEmail
	}
	// Reject display-name forms like "Alice <alice@example.com>".
	if addr.Address != normalized || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(normalized, '@')
	if at <= 0 || at == len(normalized)-1 {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// HashEmail returns the hex SHA-256 of the normalized email. The same
// mailbox always maps to the same emailHash.
func HashEmail(email string) (string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	return hashNormalized(normalized), nil
}

func hashNormalized(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// EmailSealer encrypts the contact copy of an email address to an age
// recipient. The server holds only the public key; the matching identity
// lives with the operator, so the copy cannot be read back by the service.
type EmailSealer struct {
	recipient age.Recipient
}

// NewEmailSealer parses an age X25519 public key (age1...).
func NewEmailSealer(recipientKey string) (*EmailSealer, error) {
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(recipientKey))
	if err != nil {
		return nil, fmt.Errorf("auth: parsing email recipient: %w", err)
	}
	return &EmailSealer{recipient: recipient}, nil
}

// Seal returns base64(age ciphertext) of the normalized email.
func (s *EmailSealer) Seal(normalizedEmail string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("auth: creating email encryptor: %w", err)
	}
	if _, err := w.Write([]byte(normalizedEmail)); err != nil {
		return "", fmt.Errorf("auth: encrypting email: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("auth: finalizing email encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
