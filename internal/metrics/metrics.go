package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the sync service.
//
// Metrics:
//   - timesync_runs_total{result} - finished runs by result
//   - timesync_run_duration_seconds{result} - run duration
//   - timesync_appointments_total{outcome} - reconciled drafts by outcome
//   - timesync_progress_subscribers - open progress streams
type Metrics struct {
	reg prometheus.Registerer

	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	AppointmentsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timesync_runs_total",
				Help: "Total number of finished sync runs",
			},
			[]string{"result"}, // "succeeded" or "failed"
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timesync_run_duration_seconds",
				Help:    "Duration of sync runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		),
		AppointmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timesync_appointments_total",
				Help: "Total number of reconciled drafts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) RunFinished(succeeded bool, duration time.Duration) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) AppointmentProcessed(outcome string) {
	m.AppointmentsTotal.WithLabelValues(outcome).Inc()
}

// TrackSubscribers exposes the number of open progress streams.
func (m *Metrics) TrackSubscribers(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "timesync_progress_subscribers",
			Help: "Number of open progress streams",
		},
		func() float64 { return float64(count()) },
	)
}
