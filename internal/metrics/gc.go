package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GCMetrics holds metrics describing garbage collection runs.
type GCMetrics struct {
	// RunsTotal counts GC runs per datastore and result (success, failed).
	RunsTotal *prometheus.CounterVec

	// DurationSeconds tracks GC run duration per datastore.
	DurationSeconds *prometheus.HistogramVec

	// DiskBytesGauge tracks bytes held by referenced chunks after the last
	// run, per datastore.
	DiskBytesGauge *prometheus.GaugeVec

	// DiskChunksGauge tracks the referenced chunk count after the last run,
	// per datastore.
	DiskChunksGauge *prometheus.GaugeVec

	// PendingBytesGauge tracks bytes in unreferenced chunks kept back by the
	// access-time cutoff, per datastore.
	PendingBytesGauge *prometheus.GaugeVec

	// PendingChunksGauge tracks the count of those kept-back chunks.
	PendingChunksGauge *prometheus.GaugeVec

	// RemovedBytesTotal counts bytes reclaimed by sweeps, per datastore.
	RemovedBytesTotal *prometheus.CounterVec

	// RemovedChunksTotal counts chunks reclaimed by sweeps, per datastore.
	RemovedChunksTotal *prometheus.CounterVec

	// StillBadGauge tracks corrupt chunks that remain referenced, per
	// datastore.
	StillBadGauge *prometheus.GaugeVec
}

// NewGCMetrics creates and registers GC metrics.
// Uses promauto for automatic registration with the default registry.
func NewGCMetrics() *GCMetrics {
	return &GCMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Garbage collection runs by result.",
			},
			[]string{"datastore", "result"},
		),
		DurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "duration_seconds",
				Help:      "Garbage collection run duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"datastore"},
		),
		DiskBytesGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "disk_bytes",
				Help:      "Bytes held by referenced chunks after the last run.",
			},
			[]string{"datastore"},
		),
		DiskChunksGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "disk_chunks",
				Help:      "Referenced chunk count after the last run.",
			},
			[]string{"datastore"},
		),
		PendingBytesGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "pending_bytes",
				Help:      "Bytes in unreferenced chunks kept back by the access-time cutoff.",
			},
			[]string{"datastore"},
		),
		PendingChunksGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "pending_chunks",
				Help:      "Count of unreferenced chunks kept back by the access-time cutoff.",
			},
			[]string{"datastore"},
		),
		RemovedBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "removed_bytes_total",
				Help:      "Bytes reclaimed by garbage collection sweeps.",
			},
			[]string{"datastore"},
		),
		RemovedChunksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "removed_chunks_total",
				Help:      "Chunks reclaimed by garbage collection sweeps.",
			},
			[]string{"datastore"},
		),
		StillBadGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stashd",
				Subsystem: "gc",
				Name:      "still_bad_chunks",
				Help:      "Corrupt chunks that remain referenced by snapshots.",
			},
			[]string{"datastore"},
		),
	}
}

// NewGCMetricsWithRegistry creates GC metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Garbage collection runs by result.",
		},
		[]string{"datastore", "result"},
	)

	durationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "duration_seconds",
			Help:      "Garbage collection run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"datastore"},
	)

	diskBytes := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "disk_bytes",
			Help:      "Bytes held by referenced chunks after the last run.",
		},
		[]string{"datastore"},
	)

	diskChunks := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "disk_chunks",
			Help:      "Referenced chunk count after the last run.",
		},
		[]string{"datastore"},
	)

	pendingBytes := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "pending_bytes",
			Help:      "Bytes in unreferenced chunks kept back by the access-time cutoff.",
		},
		[]string{"datastore"},
	)

	pendingChunks := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "pending_chunks",
			Help:      "Count of unreferenced chunks kept back by the access-time cutoff.",
		},
		[]string{"datastore"},
	)

	removedBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "removed_bytes_total",
			Help:      "Bytes reclaimed by garbage collection sweeps.",
		},
		[]string{"datastore"},
	)

	removedChunks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "removed_chunks_total",
			Help:      "Chunks reclaimed by garbage collection sweeps.",
		},
		[]string{"datastore"},
	)

	stillBad := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Subsystem: "gc",
			Name:      "still_bad_chunks",
			Help:      "Corrupt chunks that remain referenced by snapshots.",
		},
		[]string{"datastore"},
	)

	reg.MustRegister(runsTotal)
	reg.MustRegister(durationSeconds)
	reg.MustRegister(diskBytes)
	reg.MustRegister(diskChunks)
	reg.MustRegister(pendingBytes)
	reg.MustRegister(pendingChunks)
	reg.MustRegister(removedBytes)
	reg.MustRegister(removedChunks)
	reg.MustRegister(stillBad)

	return &GCMetrics{
		RunsTotal:          runsTotal,
		DurationSeconds:    durationSeconds,
		DiskBytesGauge:     diskBytes,
		DiskChunksGauge:    diskChunks,
		PendingBytesGauge:  pendingBytes,
		PendingChunksGauge: pendingChunks,
		RemovedBytesTotal:  removedBytes,
		RemovedChunksTotal: removedChunks,
		StillBadGauge:      stillBad,
	}
}

// GCRunStats is the subset of a GC run status the metrics layer consumes.
type GCRunStats struct {
	DiskBytes     uint64
	DiskChunks    uint64
	PendingBytes  uint64
	PendingChunks uint64
	RemovedBytes  uint64
	RemovedChunks uint64
	StillBad      uint64
}

// RecordRun records the outcome of one GC run.
func (m *GCMetrics) RecordRun(datastore string, duration time.Duration, stats GCRunStats) {
	m.RunsTotal.WithLabelValues(datastore, "success").Inc()
	m.DurationSeconds.WithLabelValues(datastore).Observe(duration.Seconds())
	m.DiskBytesGauge.WithLabelValues(datastore).Set(float64(stats.DiskBytes))
	m.DiskChunksGauge.WithLabelValues(datastore).Set(float64(stats.DiskChunks))
	m.PendingBytesGauge.WithLabelValues(datastore).Set(float64(stats.PendingBytes))
	m.PendingChunksGauge.WithLabelValues(datastore).Set(float64(stats.PendingChunks))
	m.RemovedBytesTotal.WithLabelValues(datastore).Add(float64(stats.RemovedBytes))
	m.RemovedChunksTotal.WithLabelValues(datastore).Add(float64(stats.RemovedChunks))
	m.StillBadGauge.WithLabelValues(datastore).Set(float64(stats.StillBad))
}

// RecordFailure records a failed GC run.
func (m *GCMetrics) RecordFailure(datastore string) {
	m.RunsTotal.WithLabelValues(datastore, "failed").Inc()
}
