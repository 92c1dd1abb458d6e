package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	Enrollments   prometheus.Counter
	Verifications *prometheus.CounterVec
}

// New creates a new Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		Enrollments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_enrollments_total",
			Help: "Total number of identities enrolled",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_verifications_total",
			Help: "Total number of point-in-time verifications, by decision",
		}, []string{"decision"}),
	}
}
