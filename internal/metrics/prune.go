package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PruneMetrics holds metrics describing retention (prune) job execution.
type PruneMetrics struct {
	// RunsTotal counts prune runs per datastore and result (success, failed).
	RunsTotal *prometheus.CounterVec

	// DurationSeconds tracks prune run duration per datastore.
	DurationSeconds *prometheus.HistogramVec

	// RemovedSnapshotsTotal counts snapshots removed by prune runs.
	RemovedSnapshotsTotal *prometheus.CounterVec

	// KeptSnapshotsGauge tracks how many snapshots the last run kept.
	KeptSnapshotsGauge *prometheus.GaugeVec

	// ProtectedSkippedTotal counts protected snapshots that a policy would
	// otherwise have removed.
	ProtectedSkippedTotal *prometheus.CounterVec
}

// NewPruneMetrics creates and registers prune metrics.
// Uses promauto for automatic registration with the default registry.
func NewPruneMetrics() *PruneMetrics {
	return &PruneMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "prune",
				Name:      "runs_total",
				Help:      "Prune runs by result.",
			},
			[]string{"datastore", "result"},
		),
		DurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stashd",
				Subsystem: "prune",
				Name:      "duration_seconds",
				Help:      "Prune run duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
			},
			[]string{"datastore"},
		),
		RemovedSnapshotsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "prune",
				Name:      "removed_snapshots_total",
				Help:      "Snapshots removed by prune runs.",
			},
			[]string{"datastore"},
		),
		KeptSnapshotsGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "prune",
				Name:      "kept_snapshots",
				Help:      "Snapshots kept by the last prune run.",
			},
			[]string{"datastore"},
		),
		ProtectedSkippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "prune",
				Name:      "protected_skipped_total",
				Help:      "Protected snapshots exempted from removal.",
			},
			[]string{"datastore"},
		),
	}
}

// NewPruneMetricsWithRegistry creates prune metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewPruneMetricsWithRegistry(reg prometheus.Registerer) *PruneMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "prune",
			Name:      "runs_total",
			Help:      "Prune runs by result.",
		},
		[]string{"datastore", "result"},
	)

	durationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stashd",
			Subsystem: "prune",
			Name:      "duration_seconds",
			Help:      "Prune run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		},
		[]string{"datastore"},
	)

	removedSnapshots := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "prune",
			Name:      "removed_snapshots_total",
			Help:      "Snapshots removed by prune runs.",
		},
		[]string{"datastore"},
	)

	keptSnapshots := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "prune",
			Name:      "kept_snapshots",
			Help:      "Snapshots kept by the last prune run.",
		},
		[]string{"datastore"},
	)

	protectedSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "prune",
			Name:      "protected_skipped_total",
			Help:      "Protected snapshots exempted from removal.",
		},
		[]string{"datastore"},
	)

	reg.MustRegister(runsTotal)
	reg.MustRegister(durationSeconds)
	reg.MustRegister(removedSnapshots)
	reg.MustRegister(keptSnapshots)
	reg.MustRegister(protectedSkipped)

	return &PruneMetrics{
		RunsTotal:             runsTotal,
		DurationSeconds:       durationSeconds,
		RemovedSnapshotsTotal: removedSnapshots,
		KeptSnapshotsGauge:    keptSnapshots,
		ProtectedSkippedTotal: protectedSkipped,
	}
}

// PruneRunStats is the subset of a prune run result the metrics layer
// consumes.
type PruneRunStats struct {
	Removed   uint64
	Kept      uint64
	Protected uint64
}

// RecordRun records the outcome of one prune run.
func (m *PruneMetrics) RecordRun(datastore string, duration time.Duration, stats PruneRunStats) {
	m.RunsTotal.WithLabelValues(datastore, "success").Inc()
	m.DurationSeconds.WithLabelValues(datastore).Observe(duration.Seconds())
	m.RemovedSnapshotsTotal.WithLabelValues(datastore).Add(float64(stats.Removed))
	m.KeptSnapshotsGauge.WithLabelValues(datastore).Set(float64(stats.Kept))
	m.ProtectedSkippedTotal.WithLabelValues(datastore).Add(float64(stats.Protected))
}

// RecordFailure records a failed prune run.
func (m *PruneMetrics) RecordFailure(datastore string) {
	m.RunsTotal.WithLabelValues(datastore, "failed").Inc()
}
