// Package metrics holds the Prometheus collectors for the questionnaire
// service.
//
// Each Metrics value owns its registry instead of registering on the global
// default, so tests can build as many independent instances as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proust"

// Failure reasons for MagicLinkFailures.
const (
	ReasonUnknown  = "unknown"
	ReasonExpired  = "expired"
	ReasonMismatch = "mismatch"
	ReasonMail     = "mail"
)

// Metrics bundles every collector the service updates.
type Metrics struct {
	registry *prometheus.Registry

	MagicLinksSent         prometheus.Counter
	MagicLinksVerified     prometheus.Counter
	MagicLinkFailures      *prometheus.CounterVec
	QuestionnairesStarted  prometheus.Counter
	QuestionnairesComplete prometheus.Counter
	QuestionsAnswered      prometheus.Counter
	SessionsSuperseded     prometheus.Counter
	MagicLinksSwept        prometheus.Counter
	Backups                *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MagicLinksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "magic_links_sent_total",
			Help:      "Magic links handed to the mailer.",
		}),
		MagicLinksVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "magic_links_verified_total",
			Help:      "Magic links redeemed successfully.",
		}),
		MagicLinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "magic_link_failures_total",
			Help:      "Magic-link requests or redemptions that failed, by reason.",
		}, []string{"reason"}),
		QuestionnairesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questionnaires_started_total",
			Help:      "Questionnaire sessions created.",
		}),
		QuestionnairesComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questionnaires_completed_total",
			Help:      "Questionnaire sessions completed.",
		}),
		QuestionsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_answered_total",
			Help:      "Answers accepted.",
		}),
		SessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Active sessions replaced by a newer magic-link request.",
		}),
		MagicLinksSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "magic_links_swept_total",
			Help:      "Expired magic links deleted by the sweeper.",
		}),
		Backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup runs, by result.",
		}, []string{"result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MagicLinksSent,
		m.MagicLinksVerified,
		m.MagicLinkFailures,
		m.QuestionnairesStarted,
		m.QuestionnairesComplete,
		m.QuestionsAnswered,
		m.SessionsSuperseded,
		m.MagicLinksSwept,
		m.Backups,
		m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request. route is the router pattern, not
// the raw path, so label cardinality stays bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
