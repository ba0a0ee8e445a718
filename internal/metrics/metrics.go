// Package metrics defines the Prometheus metrics exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Leader election
	LeaderIsMaster = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordersweep_leader_is_master",
			Help: "Whether this instance holds the master lease (1 = master, 0 = standby)",
		},
	)

	LeaderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersweep_leader_transitions_total",
			Help: "Master status changes by direction",
		},
		[]string{"to"},
	)

	// Sweeps
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersweep_sweep_runs_total",
			Help: "Schedule ticks by sweep and outcome",
		},
		[]string{"sweep", "status"},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordersweep_sweep_duration_seconds",
			Help:    "Duration of sweeps that ran",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"sweep"},
	)

	RecordsAffected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersweep_records_affected_total",
			Help: "Documents removed or released by reconciliation step",
		},
		[]string{"step"},
	)

	// Alerting
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersweep_alerts_total",
			Help: "Sweep failure alerts by delivery status",
		},
		[]string{"status"},
	)

	// API
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersweep_http_requests_total",
			Help: "Operations API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordersweep_http_request_duration_seconds",
			Help:    "Operations API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(LeaderIsMaster)
	prometheus.MustRegister(LeaderTransitions)
	prometheus.MustRegister(SweepRunsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(RecordsAffected)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetMaster records a master status change
func SetMaster(isMaster bool) {
	if isMaster {
		LeaderIsMaster.Set(1)
		LeaderTransitions.WithLabelValues("master").Inc()
		return
	}
	LeaderIsMaster.Set(0)
	LeaderTransitions.WithLabelValues("standby").Inc()
}

// ObserveFire records one schedule tick. Only ticks that ran the sweep have a duration.
func ObserveFire(sweep, result string, elapsed time.Duration, ran bool) {
	SweepRunsTotal.WithLabelValues(sweep, result).Inc()
	if ran {
		SweepDuration.WithLabelValues(sweep).Observe(elapsed.Seconds())
	}
}

// ObserveAlert records the final status of a failure alert
func ObserveAlert(status string) {
	AlertsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTP records one API request
func ObserveHTTP(method string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Recorder counts records affected by reconciliation steps
type Recorder struct{}

// AddAffected adds n to the step's counter
func (Recorder) AddAffected(step string, n int64) {
	RecordsAffected.WithLabelValues(step).Add(float64(n))
}
