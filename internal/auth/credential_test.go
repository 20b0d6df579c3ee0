package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCredentialSecret = []byte("credential-secret-for-tests-abcdef0123")

func newTestCredentialService(t *testing.T) *CredentialService {
	t.Helper()
	cs, err := NewCredentialService(testCredentialSecret, time.Hour)
	require.NoError(t, err)
	return cs
}

// =========================================================================
// CONSTRUCTION TESTS
// =========================================================================

func TestNewCredentialService_ShortSecret(t *testing.T) {
	_, err := NewCredentialService([]byte("short"), time.Hour)
	assert.Error(t, err)
}

func TestNewCredentialService_DefaultTTL(t *testing.T) {
	cs, err := NewCredentialService(testCredentialSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCredentialTTL, cs.TTL())
}

// =========================================================================
// ISSUE / VERIFY TESTS
// =========================================================================

func TestIssue_LooksLikeJWT(t *testing.T) {
	cs := newTestCredentialService(t)

	signed, err := cs.Issue("email-hash", "session-id", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(signed, "."), "header.payload.signature")
}

func TestIssue_RequiresBothClaims(t *testing.T) {
	cs := newTestCredentialService(t)

	_, err := cs.Issue("", "session-id", 0)
	assert.Error(t, err)
	_, err = cs.Issue("email-hash", "", 0)
	assert.Error(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	cs := newTestCredentialService(t)

	signed, err := cs.Issue("email-hash-abc", "session-xyz", 0)
	require.NoError(t, err)

	cred, err := cs.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "email-hash-abc", cred.EmailHash)
	assert.Equal(t, "session-xyz", cred.SessionID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, 5*time.Second)
}

func TestVerify_Expired(t *testing.T) {
	cs := newTestCredentialService(t)

	signed, err := cs.Issue("email-hash", "session-id", time.Minute)
	require.NoError(t, err)

	cs.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = cs.Verify(signed)
	assert.True(t, errors.Is(err, ErrCredentialExpired), "got %v", err)
}

func TestVerify_Tampered(t *testing.T) {
	cs := newTestCredentialService(t)
	signed, _ := cs.Issue("email-hash", "session-id", 0)

	tampered := signed[:len(signed)-3] + "xxx"
	_, err := cs.Verify(tampered)
	assert.True(t, errors.Is(err, ErrCredentialInvalid), "got %v", err)
}

func TestVerify_WrongSecret(t *testing.T) {
	cs1 := newTestCredentialService(t)
	cs2, err := NewCredentialService([]byte("another-credential-secret-0123456789"), time.Hour)
	require.NoError(t, err)

	signed, _ := cs1.Issue("email-hash", "session-id", 0)
	_, err = cs2.Verify(signed)
	assert.Error(t, err)
}

func TestVerify_HasherKeyCannotForge(t *testing.T) {
	// A credential signed with the token-hashing key must not verify.
	forger, err := NewCredentialService(testTokenSecret, time.Hour)
	require.NoError(t, err)
	cs := newTestCredentialService(t)

	signed, _ := forger.Issue("email-hash", "session-id", 0)
	_, err = cs.Verify(signed)
	assert.Error(t, err)
}

func TestVerify_Garbage(t *testing.T) {
	cs := newTestCredentialService(t)

	for _, in := range []string{"", "not.a.jwt", "a.b.c.d"} {
		_, err := cs.Verify(in)
		assert.Error(t, err, "input %q", in)
	}
}
