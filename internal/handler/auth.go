package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sakif/proust-questionnaire/internal/auth"
	"github.com/sakif/proust-questionnaire/internal/service"
)

// ResumeCookieMaxAge is how long the browser keeps the resume token. The
// token itself has no expiry; it stops working when its session is superseded.
const ResumeCookieMaxAge = 90 * 24 * time.Hour

// linkRequestedMessage is sent for every accepted link request, whether the
// address is new or known.
const linkRequestedMessage = "if the address is valid, a link is on its way"

// AuthHandler handles the magic-link flow.
//
//   - HandleRequestLink → create a session and mail the link
//   - HandleVerify / HandleVerifyJSON → redeem the link, set cookies
//   - HandleLogout → clear cookies
type AuthHandler struct {
	links        *service.MagicLinkService
	credTTL      time.Duration
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. credTTL sets the credential cookie
// lifetime; cookieSecure marks cookies HTTPS-only.
func NewAuthHandler(links *service.MagicLinkService, credTTL time.Duration, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		links:        links,
		credTTL:      credTTL,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

type requestLinkRequest struct {
	Email string `json:"email"`
}

// HandleRequestLink starts a session and mails the link.
//
// HTTP: POST /api/auth/magic-link  {"email": "..."}
//
// The 202 response is identical for every valid address so that the endpoint
// cannot be used to learn whether someone has taken the questionnaire.
func (h *AuthHandler) HandleRequestLink(w http.ResponseWriter, r *http.Request) {
	var req requestLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	_, err := h.links.RequestLink(r.Context(), req.Email, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrMailUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Error:   "mail_unavailable",
				Message: "the link could not be sent, please try again",
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: linkRequestedMessage})
}

// HandleVerify redeems the emailed link.
//
// HTTP: GET /auth/verify?token=...&resume=...
//
// The URL carries bearer tokens, so the response is marked no-store and
// sends no referrer.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.verify(w, r, q.Get("token"), q.Get("resume"))
}

type verifyRequest struct {
	Token  string `json:"token"`
	Resume string `json:"resume"`
}

// HandleVerifyJSON is HandleVerify for clients that post the tokens.
//
// HTTP: POST /api/auth/magic-link/verify  {"token": "...", "resume": "..."}
func (h *AuthHandler) HandleVerifyJSON(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.verify(w, r, req.Token, req.Resume)
}

func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request, token, resume string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")

	v, err := h.links.VerifyLink(r.Context(), token, resume)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setCookie(w, auth.CredentialCookie, v.Credential, h.credTTL)
	h.setCookie(w, auth.ResumeTokenCookie, resume, ResumeCookieMaxAge)
	writeJSON(w, http.StatusOK, v)
}

// HandleLogout clears both cookies. The credential stays valid until it
// expires, but the browser no longer sends it.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setCookie(w, auth.CredentialCookie, "", -1)
	h.setCookie(w, auth.ResumeTokenCookie, "", -1)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// setCookie writes an HttpOnly, SameSite=Lax cookie. maxAge < 0 deletes it.
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, c)
}

// clientIP returns the host part of RemoteAddr. Behind a trusted proxy the
// router has already replaced RemoteAddr from X-Forwarded-For or X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
