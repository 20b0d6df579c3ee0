package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSessionAuth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantOK     bool
		wantCred   string
		wantResume string
	}{
		{
			name: "headers",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer cred-1")
				r.Header.Set(ResumeTokenHeader, "resume-1")
			},
			wantOK: true, wantCred: "cred-1", wantResume: "resume-1",
		},
		{
			name: "cookies",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: CredentialCookie, Value: "cred-2"})
				r.AddCookie(&http.Cookie{Name: ResumeTokenCookie, Value: "resume-2"})
			},
			wantOK: true, wantCred: "cred-2", wantResume: "resume-2",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer cred-h")
				r.AddCookie(&http.Cookie{Name: CredentialCookie, Value: "cred-c"})
				r.AddCookie(&http.Cookie{Name: ResumeTokenCookie, Value: "resume-c"})
			},
			wantOK: true, wantCred: "cred-h", wantResume: "resume-c",
		},
		{
			name: "credential alone is not enough",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer cred-only")
			},
			wantOK: false,
		},
		{
			name: "resume token alone is not enough",
			setup: func(r *http.Request) {
				r.Header.Set(ResumeTokenHeader, "resume-only")
			},
			wantOK: false,
		},
		{
			name: "non-bearer scheme ignored",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic abc")
				r.Header.Set(ResumeTokenHeader, "resume")
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)

			sa, ok := ExtractSessionAuth(r)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantCred, sa.Credential)
				assert.Equal(t, tt.wantResume, sa.ResumeToken)
			}
		})
	}
}

func TestRequireSessionAuth(t *testing.T) {
	var got SessionAuth
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SessionAuthFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireSessionAuth(next)

	t.Run("missing pair is 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "unauthorized")
	})

	t.Run("pair reaches handler", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer c")
		r.Header.Set(ResumeTokenHeader, "t")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, SessionAuth{Credential: "c", ResumeToken: "t"}, got)
	})
}
