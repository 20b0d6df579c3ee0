package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proust-questionnaire/internal/apperror"
)

func TestValidateAnswer_AcceptsAnyScript(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"latin", "Reading by the sea"},
		{"cyrillic", "это осмысленный ответ"},
		{"arabic", "القراءة بجانب البحر"},
		{"cjk", "海辺で読書"},
		{"devanagari", "समुद्र के किनारे पढ़ना"},
		{"greek", "διάβασμα"},
		{"hebrew", "קריאה"},
		{"mixed with digits", "age 42"},
		{"three letters", "yes"},
		{"multiline", "first line\nsecond line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAnswer(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestValidateAnswer_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \t\n  "},
		{"digits", "123"},
		{"long digits", "1234567890"},
		{"punctuation", "?!..."},
		{"symbols", "★★★ ♥♥"},
		{"too short", "ab"},
		{"short after trim", "  ab  "},
		{"invalid utf8", "abc\xff"},
		{"control chars", "abc\x00def"},
		{"too long", strings.Repeat("a", MaxAnswerRunes+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAnswer(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			// the message never says which rule failed
			assert.Equal(t, InvalidResponseMessage, err.Error())
		})
	}
}

func TestValidateAnswer_Trims(t *testing.T) {
	got, err := ValidateAnswer("  a quiet life \n")
	require.NoError(t, err)
	assert.Equal(t, "a quiet life", got)
}

func TestValidateAnswer_LengthInRunes(t *testing.T) {
	// three CJK runes are nine bytes but still exactly the minimum
	_, err := ValidateAnswer("海辺で")
	assert.NoError(t, err)

	_, err = ValidateAnswer(strings.Repeat("я", MaxAnswerRunes))
	assert.NoError(t, err)
}
