package auth

import (
	"context"
	"net/http"
	"strings"
)

// Transport names for the two halves of the dual credential. Either half may
// travel as a header or as a cookie; both are required on every call.
const (
	CredentialCookie  = "credential"
	ResumeTokenCookie = "resume_token"
	ResumeTokenHeader = "X-Resume-Token"
)

type contextKey string

const sessionAuthKey contextKey = "sessionAuth"

// SessionAuth is the raw, unverified pair presented by a client. Verification
// needs the session store and happens in the service layer.
type SessionAuth struct {
	Credential  string
	ResumeToken string
}

// RequireSessionAuth rejects requests that do not carry both a credential and
// a resume token, and stores the pair in the request context.
//
// The credential is read from "Authorization: Bearer ..." first, then the
// credential cookie. The resume token is read from X-Resume-Token first, then
// the resume_token cookie.
func RequireSessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sa, ok := ExtractSessionAuth(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"invalid or expired credentials"}` + "\n"))
			return
		}
		ctx := context.WithValue(r.Context(), sessionAuthKey, sa)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionAuthFromContext returns the pair stored by RequireSessionAuth.
func SessionAuthFromContext(ctx context.Context) (SessionAuth, bool) {
	sa, ok := ctx.Value(sessionAuthKey).(SessionAuth)
	return sa, ok && sa.Credential != "" && sa.ResumeToken != ""
}

// ExtractSessionAuth reads both halves from headers or cookies.
func ExtractSessionAuth(r *http.Request) (SessionAuth, bool) {
	var sa SessionAuth

	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, value, found := strings.Cut(h, " "); found && strings.EqualFold(scheme, "Bearer") {
			sa.Credential = strings.TrimSpace(value)
		}
	}
	if sa.Credential == "" {
		if c, err := r.Cookie(CredentialCookie); err == nil {
			sa.Credential = c.Value
		}
	}

	sa.ResumeToken = strings.TrimSpace(r.Header.Get(ResumeTokenHeader))
	if sa.ResumeToken == "" {
		if c, err := r.Cookie(ResumeTokenCookie); err == nil {
			sa.ResumeToken = c.Value
		}
	}

	return sa, sa.Credential != "" && sa.ResumeToken != ""
}
