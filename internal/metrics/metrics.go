package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bilal/router-rebooter/internal/decision"
)

var (
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebooter_probes_total",
			Help: "Total number of reachability probes by result",
		},
		[]string{"result"},
	)

	ProbeAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rebooter_probe_attempts",
			Help:    "Ping attempts used per probe",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rebooter_probe_duration_seconds",
			Help:    "Wall time of a full probe including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConnectivityState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebooter_connectivity_state",
			Help: "Current connectivity state (1 = online, 0 = offline, -1 = unknown)",
		},
	)

	RebootsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebooter_reboots_total",
			Help: "Total number of router power cycles by reason",
		},
		[]string{"reason"},
	)

	HardwareErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rebooter_hardware_errors_total",
			Help: "Total number of relay line write failures",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProbesTotal,
		ProbeAttempts,
		ProbeDuration,
		ConnectivityState,
		RebootsTotal,
		HardwareErrors,
	)
	ConnectivityState.Set(-1)
}

// SetState exports the connectivity state as a gauge.
func SetState(s decision.State) {
	switch s {
	case decision.StateOnline:
		ConnectivityState.Set(1)
	case decision.StateOffline:
		ConnectivityState.Set(0)
	default:
		ConnectivityState.Set(-1)
	}
}
