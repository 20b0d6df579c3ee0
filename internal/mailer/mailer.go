// Package mailer delivers magic-link emails.
//
// The service layer only knows the Mailer interface. The URL handed to Send
// carries the magic-link token and the resume token and nothing else, so
// implementations must never log it.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Subject is the subject line of every magic-link email.
const Subject = "Your Proust Questionnaire link"

// Mailer sends a magic-link URL to a plaintext address.
type Mailer interface {
	Send(ctx context.Context, to, link string) error
}

func body(link string) string {
	return "Follow this link to begin or continue your questionnaire:\n\n" +
		link + "\n\n" +
		"The link can be used once and expires shortly. " +
		"If you did not ask for it, ignore this message.\n"
}

// =========================================================================
// SENDGRID
// =========================================================================

// DefaultSendGridEndpoint is the v3 mail send API.
const DefaultSendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGrid posts mail through the SendGrid v3 HTTP API.
type SendGrid struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// NewSendGrid returns a SendGrid mailer. endpoint may be empty for the
// public API.
func NewSendGrid(apiKey, from, endpoint string) *SendGrid {
	if endpoint == "" {
		endpoint = DefaultSendGridEndpoint
	}
	return &SendGrid{
		apiKey:   apiKey,
		from:     from,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send delivers one message. Non-2xx responses are errors; the response body
// is not included since SendGrid may echo the request.
func (s *SendGrid) Send(ctx context.Context, to, link string) error {
	req := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: to}}}},
		From:             sendGridAddress{Email: s.from, Name: "Proust Questionnaire"},
		Subject:          Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: body(link)}},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mailer: encoding sendgrid request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailer: building sendgrid request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mailer: sendgrid: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mailer: sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// =========================================================================
// CONSOLE (development)
// =========================================================================

// Console writes each message to w instead of sending it. It exists for local
// development without a mail provider and prints the link in full.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Send(_ context.Context, to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "---- mail ----\nTo: %s\nSubject: %s\n\n%s--------------\n", to, Subject, body(link))
	return err
}

// =========================================================================
// RECORDER (tests)
// =========================================================================

// Message is one captured send.
type Message struct {
	To   string
	Link string
}

// ErrRecorderFailing is returned by a Recorder with Fail set.
var ErrRecorderFailing = errors.New("mailer: recorder configured to fail")

// Recorder keeps every message in memory. Set Fail to simulate delivery
// failure.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Fail     bool
}

func (r *Recorder) Send(_ context.Context, to, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return ErrRecorderFailing
	}
	r.messages = append(r.messages, Message{To: to, Link: link})
	return nil
}

// Messages returns a copy of the captured messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message. ok is false when nothing was sent.
func (r *Recorder) Last() (msg Message, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}
