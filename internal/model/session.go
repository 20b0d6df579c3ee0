package model

import "time"

// SessionStatus is the lifecycle state of a questionnaire session.
// Transitions: active → completed, active → superseded. Neither terminal
// state ever returns to active.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionSuperseded SessionStatus = "superseded"
)

// Session is one attempt at the questionnaire.
//
// ID is HMAC(tokenSecret, resumeToken); the raw resume token is never stored.
// QuestionOrder holds the question id at each position and is fixed when the
// session is created.
type Session struct {
	ID            string        `json:"-"`
	EmailHash     string        `json:"-"`
	Status        SessionStatus `json:"status"`
	QuestionOrder []int         `json:"-"`
	IsShared      bool          `json:"isShared"`
	ShareID       string        `json:"shareId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	SupersededAt  *time.Time    `json:"-"`
}

// IsCompleted reports whether every question has been answered.
func (s *Session) IsCompleted() bool { return s.Status == SessionCompleted }
