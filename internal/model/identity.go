// Package model defines the data structures shared by the service,
// repository and handler layers.
package model

import "time"

// Identity is a durable questionnaire participant, keyed by emailHash.
//
// The plaintext address is never a join key. EncryptedEmail, when present,
// is an age ciphertext kept only for contacting the participant and is never
// serialized.
type Identity struct {
	EmailHash       string    `json:"-"`
	EncryptedEmail  string    `json:"-"`
	CompletionCount int       `json:"completionCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
