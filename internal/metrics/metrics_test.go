package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.MagicLinksSent.Inc()
	a.MagicLinksSent.Inc()
	b.MagicLinksSent.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.MagicLinksSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.MagicLinksSent))
}

func TestFailureReasons(t *testing.T) {
	m := New()
	m.MagicLinkFailures.WithLabelValues(ReasonExpired).Inc()
	m.MagicLinkFailures.WithLabelValues(ReasonUnknown).Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MagicLinkFailures.WithLabelValues(ReasonExpired)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MagicLinkFailures.WithLabelValues(ReasonUnknown)))
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.QuestionsAnswered.Add(7)
	m.ObserveRequest(http.MethodGet, "/api/health", http.StatusOK, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "proust_questions_answered_total 7")
	assert.Contains(t, string(body), `proust_http_request_duration_seconds_count{method="GET",route="/api/health",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
