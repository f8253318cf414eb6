// Package metrics exposes Prometheus collectors for tour processing.
//
// Collectors register on the default registry through promauto and are
// served by the API's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerResultsTotal counts worker arrivals by worker and outcome (ok, error, timeout, fault).
	WorkerResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_worker_results_total",
			Help: "Worker results per junction by outcome",
		},
		[]string{"worker", "outcome"},
	)

	// WorkerLatency tracks how long workers took to answer inside the window.
	WorkerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourguide_worker_latency_seconds",
			Help:    "Worker processing latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"worker"},
	)

	// JunctionWindowDuration tracks the collection window from launch to close.
	JunctionWindowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourguide_junction_window_seconds",
			Help:    "Duration of junction collection windows in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// JunctionWinsTotal counts judge decisions by winning category; "none" for degraded junctions.
	JunctionWinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_junction_wins_total",
			Help: "Judge decisions by winning category",
		},
		[]string{"category"},
	)

	// JunctionsInFlight is the number of junctions currently being processed.
	JunctionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourguide_junctions_in_flight",
			Help: "Junctions currently being processed",
		},
	)

	// ToursTotal counts finished tours by final status.
	ToursTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_tours_total",
			Help: "Finished tours by status",
		},
		[]string{"status"},
	)

	// ToursActive is the number of tours currently running.
	ToursActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourguide_tours_active",
			Help: "Tours currently running",
		},
	)
)

// RecordWorkerResult records one worker's arrival or absence for a junction.
func RecordWorkerResult(worker, outcome string, latency time.Duration) {
	WorkerResultsTotal.WithLabelValues(worker, outcome).Inc()
	if outcome == "ok" || outcome == "error" {
		WorkerLatency.WithLabelValues(worker).Observe(latency.Seconds())
	}
}

// RecordJunction records a closed window and the winning category, or "none".
func RecordJunction(window time.Duration, winner string) {
	JunctionWindowDuration.Observe(window.Seconds())
	if winner == "" {
		winner = "none"
	}
	JunctionWinsTotal.WithLabelValues(winner).Inc()
}

// RecordTour records a finished tour.
func RecordTour(status string) {
	ToursTotal.WithLabelValues(status).Inc()
}
