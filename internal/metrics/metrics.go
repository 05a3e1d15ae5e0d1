// Package metrics holds the Prometheus collectors for the lifecycle
// components. Collectors register with the default registry at init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "modelhost"

var (
	ServiceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "1 for the current orchestrator state, 0 otherwise",
		},
		[]string{"state"},
	)

	EngineStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Engine start attempts by outcome",
		},
		[]string{"outcome"},
	)

	EngineStartupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "startup_seconds",
			Help:      "Time from spawn to healthy",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes received from asset downloads",
		},
	)

	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "tasks_total",
			Help:      "Finished download tasks by outcome",
		},
		[]string{"outcome"},
	)

	DownloadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "active",
			Help:      "Download tasks in flight",
		},
	)

	Inference = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Inference requests by outcome",
		},
		[]string{"outcome"},
	)

	CapabilityProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "probes_total",
			Help:      "Runtime modality probes by result",
		},
		[]string{"result"},
	)
)

// States lists every label value used by ServiceState.
var States = []string{"uninitialized", "initializing", "ready", "error"}

func init() {
	prometheus.MustRegister(
		ServiceState, EngineStarts, EngineStartupSeconds,
		DownloadBytes, Downloads, DownloadsActive,
		Inference, CapabilityProbes,
	)
}

// SetServiceState marks state as current.
func SetServiceState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		ServiceState.WithLabelValues(s).Set(v)
	}
}
