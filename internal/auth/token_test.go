package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTokenSecret = []byte("token-secret-for-tests-0123456789abcdef")

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testTokenSecret)
	require.NoError(t, err)
	return h
}

// =========================================================================
// GenerateToken TESTS
// =========================================================================

func TestGenerateToken_EncodesRequestedEntropy(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err, "token must be unpadded base64url")
	assert.Len(t, raw, 32)
	assert.NotContains(t, token, "=")
}

func TestGenerateToken_RejectsShortLength(t *testing.T) {
	_, err := GenerateToken(16)
	assert.Error(t, err)
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := GenerateToken(MinTokenBytes)
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token after %d draws", i)
		seen[token] = true
	}
}

func TestGenerateToken_EntropyFailureIsHardError(t *testing.T) {
	orig := randRead
	t.Cleanup(func() { randRead = orig })
	randRead = func([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

	token, err := GenerateToken(32)
	assert.Error(t, err)
	assert.Empty(t, token)
}

// =========================================================================
// Hasher TESTS
// =========================================================================

func TestNewHasher_ShortSecret(t *testing.T) {
	_, err := NewHasher([]byte("short"))
	assert.Error(t, err)
}

func TestHash_DeterministicHex(t *testing.T) {
	h := newTestHasher(t)

	a := h.Hash("resume-token")
	b := h.Hash("resume-token")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "HMAC-SHA256 hex is 64 chars")
	assert.NotEqual(t, a, h.Hash("resume-token2"))
}

func TestHash_DependsOnSecret(t *testing.T) {
	h1 := newTestHasher(t)
	h2, err := NewHasher([]byte("a-completely-different-secret-value!!"))
	require.NoError(t, err)

	assert.NotEqual(t, h1.Hash("same-token"), h2.Hash("same-token"))
}

func TestVerify(t *testing.T) {
	h := newTestHasher(t)
	stored := h.Hash("the-token")

	assert.True(t, h.Verify("the-token", stored))
	assert.False(t, h.Verify("the-tokem", stored))
	assert.False(t, h.Verify("", stored))
	// The stored id itself is not a usable token.
	assert.False(t, h.Verify(stored, stored))
}

func TestHasher_StringRedactsSecret(t *testing.T) {
	h := newTestHasher(t)
	assert.NotContains(t, h.String(), string(testTokenSecret))
	assert.True(t, strings.Contains(h.String(), "redacted"))
}
