package model

import "time"

// Answer is one response to one question within one session. At most one
// Answer exists per (SessionID, QuestionID).
//
// Sequence is the 1-based order in which the participant actually answered,
// which may differ from the question's position in the session order.
type Answer struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"-"`
	QuestionID int       `json:"questionId"`
	Text       string    `json:"answer"`
	Sequence   int       `json:"sequence"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
