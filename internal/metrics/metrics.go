// Package metrics exposes the Prometheus instrumentation for trim and probe
// operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaytrim_trims_total",
			Help: "Total number of trim operations by outcome",
		},
		[]string{"status"},
	)

	TrimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replaytrim_trim_duration_seconds",
			Help:    "Wall-clock duration of trim operations in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	TrimsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replaytrim_trims_in_flight",
			Help: "Number of trim operations currently running",
		},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replaytrim_probes_total",
			Help: "Total number of duration probes by outcome",
		},
		[]string{"status"},
	)

	SourcesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replaytrim_sources_removed_total",
			Help: "Original recordings removed after a successful trim",
		},
	)
)
