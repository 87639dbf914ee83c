package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Claim outcomes.
const (
	ClaimWon        = "won"
	ClaimLost       = "lost"
	ClaimIneligible = "ineligible"
	ClaimRejected   = "rejected"
)

// Notification delivery outcomes.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryDropped   = "dropped"
)

// Metrics holds the collectors for the matching engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	DonorClaims        *prometheus.CounterVec
	RequestTransitions *prometheus.CounterVec
	DonorAdmissions    *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	CandidateCount     prometheus.Histogram
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DonorClaims: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_donor_claims_total",
			Help: "Donor claim attempts by outcome",
		}, []string{"outcome"}),
		RequestTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_request_transitions_total",
			Help: "Applied blood request status transitions",
		}, []string{"from", "to"}),
		DonorAdmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_donor_admissions_total",
			Help: "Donor admission decisions",
		}, []string{"status"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_notifications_total",
			Help: "Notification deliveries by sink and outcome",
		}, []string{"sink", "outcome"}),
		CandidateCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_candidate_count",
			Help:    "Number of eligible donors returned per candidate search",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) IncrementClaim(outcome string) {
	if m == nil {
		return
	}
	m.DonorClaims.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m == nil {
		return
	}
	m.RequestTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementAdmission(status string) {
	if m == nil {
		return
	}
	m.DonorAdmissions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementNotification(sink, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.CandidateCount.Observe(float64(n))
}
