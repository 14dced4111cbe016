package registration

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registration submissions.
type Metrics struct {
	// Submissions by final status
	Submissions *prometheus.CounterVec

	// Identity provider calls by result
	IdentityAttempts *prometheus.CounterVec

	// Document uploads by result
	DocumentUploads *prometheus.CounterVec

	// Full saga latency
	SubmitLatency prometheus.Histogram
}

// NewMetrics registers the registration metrics with reg. A nil registerer
// uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skyportal_registration_submissions_total",
			Help: "Registration submissions by final status",
		}, []string{"status"}),

		IdentityAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skyportal_registration_identity_attempts_total",
			Help: "Identity provider create calls by result",
		}, []string{"result"}), // result: "success", "duplicate", "validation", "transient"

		DocumentUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skyportal_registration_document_uploads_total",
			Help: "Document uploads by result",
		}, []string{"result"}),

		SubmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "skyportal_registration_submit_duration_seconds",
			Help:    "Duration of a registration submission saga",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementSubmission(status Status) {
	if m != nil {
		m.Submissions.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) IncrementIdentityAttempt(result string) {
	if m != nil {
		m.IdentityAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddDocumentUploads(succeeded, failed int) {
	if m != nil {
		m.DocumentUploads.WithLabelValues("succeeded").Add(float64(succeeded))
		m.DocumentUploads.WithLabelValues("failed").Add(float64(failed))
	}
}

func (m *Metrics) ObserveSubmitLatency(d time.Duration) {
	if m != nil {
		m.SubmitLatency.Observe(d.Seconds())
	}
}
