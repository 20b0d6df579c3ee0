package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/proust-questionnaire/internal/apperror"
)

// Answer limits, counted in runes so every script is measured the same way.
const (
	MinAnswerRunes = 3
	MaxAnswerRunes = 5000
)

// InvalidResponseMessage is the only message a rejected answer ever gets.
// Which rule failed is not disclosed.
const InvalidResponseMessage = "please provide a valid response"

// ValidateAnswer trims text and checks the minimum-content rules. It returns
// the trimmed text.
//
// The rules are script-agnostic: any Unicode letter counts, so Cyrillic,
// Arabic, CJK and Devanagari answers pass while answers made only of digits,
// punctuation, symbols or whitespace do not.
func ValidateAnswer(text string) (string, error) {
	invalid := apperror.ValidationFailed("answer", InvalidResponseMessage)

	if !utf8.ValidString(text) {
		return "", invalid
	}
	text = strings.TrimSpace(text)

	n := utf8.RuneCountInString(text)
	if n < MinAnswerRunes || n > MaxAnswerRunes {
		return "", invalid
	}

	hasLetter := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			hasLetter = true
			continue
		}
		// control characters other than line breaks and tabs
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return "", invalid
		}
	}
	if !hasLetter {
		return "", invalid
	}
	return text, nil
}
