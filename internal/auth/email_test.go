package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercase and trim", in: "  Alice@Example.COM ", want: "alice@example.com"},
		{name: "plus addressing", in: "bob+proust@example.org", want: "bob+proust@example.org"},
		{name: "non-latin local part", in: "пользователь@пример.рф", want: "пользователь@пример.рф"},
		{name: "empty", in: "   ", wantErr: true},
		{name: "no at sign", in: "alice.example.com", wantErr: true},
		{name: "display name form", in: "Alice <alice@example.com>", wantErr: true},
		{name: "two addresses", in: "a@example.com, b@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEmail(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidEmail), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashEmail_StableAcrossCase(t *testing.T) {
	a, err := HashEmail("Alice@Example.com")
	require.NoError(t, err)
	b, err := HashEmail(" alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "alice")
}

func TestHashEmail_Invalid(t *testing.T) {
	_, err := HashEmail("nope")
	assert.Error(t, err)
}

func TestEmailSealer_RoundTripWithOperatorKey(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	sealer, err := NewEmailSealer(identity.Recipient().String())
	require.NoError(t, err)

	sealed, err := sealer.Seal("alice@example.com")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "alice")

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", string(plain))
}

func TestNewEmailSealer_BadKey(t *testing.T) {
	_, err := NewEmailSealer("not-an-age-key")
	assert.Error(t, err)
}
