package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the surveillance module.
// Tracks check volume, violations, session lifecycle and check latency.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsEnded     *prometheus.CounterVec
	Checks            *prometheus.CounterVec
	Violations        *prometheus.CounterVec
	ChallengesIssued  prometheus.Counter
	ChallengesExpired prometheus.Counter
	CheckDuration     *prometheus.HistogramVec
}

// New creates a new Metrics instance with all surveillance metrics registered.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_active_sessions",
			Help: "Number of exam sessions currently under surveillance",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_sessions_started_total",
			Help: "Total number of surveillance sessions started",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_sessions_ended_total",
			Help: "Total number of surveillance sessions ended, by final status",
		}, []string{"status"}),
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_checks_total",
			Help: "Total number of identity checks performed, by modality and outcome",
		}, []string{"modality", "outcome"}),
		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_violations_total",
			Help: "Total number of violations raised, by kind",
		}, []string{"kind"}),
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_challenges_issued_total",
			Help: "Total number of voice challenges issued",
		}),
		ChallengesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_challenges_expired_total",
			Help: "Total number of voice challenges that expired unanswered",
		}),
		CheckDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_check_duration_seconds",
			Help:    "Duration of one check cycle (extract, match, fuse, apply)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"modality"}),
	}
}

// ObserveCheck records one completed check cycle.
// Call with time.Now() at the start of the cycle.
func (m *Metrics) ObserveCheck(modality, outcome string, start time.Time) {
	m.Checks.WithLabelValues(modality, outcome).Inc()
	m.CheckDuration.WithLabelValues(modality).Observe(time.Since(start).Seconds())
}

// IncrementViolation records a raised violation.
func (m *Metrics) IncrementViolation(kind string) {
	m.Violations.WithLabelValues(kind).Inc()
}
