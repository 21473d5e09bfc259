package scheduler

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd-io/stashd/internal/backup"
	"github.com/stashd-io/stashd/internal/config"
	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/metrics"
	"github.com/stashd-io/stashd/internal/namespace"
	"github.com/stashd-io/stashd/internal/prune"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatJSON,
		Output: io.Discard,
	})
}

func testStore(t *testing.T) *datastore.Store {
	t.Helper()
	s, err := datastore.Open("store1", t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAddDatastoreRegistersJobs(t *testing.T) {
	sched := New(testLogger(), nil, nil)
	store := testStore(t)

	require.NoError(t, sched.AddDatastore(store, config.DatastoreConfig{
		Name:          "store1",
		GCSchedule:    "0 3 * * *",
		PruneSchedule: "30 3 * * *",
		Keep:          prune.Options{KeepLast: prune.Keep(3)},
	}))
	assert.Equal(t, 2, sched.Jobs())

	// no schedules, nothing registered
	store2, err := datastore.Open("store2", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sched.AddDatastore(store2, config.DatastoreConfig{Name: "store2"}))
	assert.Equal(t, 2, sched.Jobs())
}

func TestAddDatastoreRejectsBadSpecs(t *testing.T) {
	sched := New(testLogger(), nil, nil)
	store := testStore(t)

	err := sched.AddDatastore(store, config.DatastoreConfig{
		Name:       "store1",
		GCSchedule: "not a cron spec",
	})
	require.Error(t, err)

	err = sched.AddDatastore(store, config.DatastoreConfig{
		Name:          "store1",
		PruneSchedule: "0 4 * * *",
	})
	assert.ErrorIs(t, err, prune.ErrEmptyPolicy)
}

func TestStartStop(t *testing.T) {
	sched := New(testLogger(), nil, nil)
	store := testStore(t)
	require.NoError(t, sched.AddDatastore(store, config.DatastoreConfig{
		Name:       "store1",
		GCSchedule: "0 3 * * *",
	}))

	sched.Start()
	sched.Start() // idempotent
	sched.Stop()
	sched.Stop() // idempotent
}

func TestRunGCRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	gcMetrics := metrics.NewGCMetricsWithRegistry(reg)
	sched := New(testLogger(), gcMetrics, nil)
	store := testStore(t)

	sched.runGC(store, config.DatastoreConfig{Name: "store1"})
	assert.Equal(t, 1.0, testutil.ToFloat64(gcMetrics.RunsTotal.WithLabelValues("store1", "success")))

	// a held lock makes the scheduled run skip without a failure mark
	release, err := store.TryLockGC()
	require.NoError(t, err)
	sched.runGC(store, config.DatastoreConfig{Name: "store1"})
	release()
	assert.Equal(t, 1.0, testutil.ToFloat64(gcMetrics.RunsTotal.WithLabelValues("store1", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(gcMetrics.RunsTotal.WithLabelValues("store1", "failed")))
}

func TestRunPruneRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pruneMetrics := metrics.NewPruneMetricsWithRegistry(reg)
	sched := New(testLogger(), nil, pruneMetrics)
	store := testStore(t)

	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		dir := backup.NewDir(backup.TypeVM, "100", base.Add(-time.Duration(i)*time.Hour).Unix())
		require.NoError(t, store.CreateSnapshot(namespace.Root(), dir, nil))
	}

	cfg := config.DatastoreConfig{Name: "store1", Keep: prune.Options{KeepLast: prune.Keep(1)}}
	sched.runPrune(store, cfg)

	assert.Equal(t, 1.0, testutil.ToFloat64(pruneMetrics.RunsTotal.WithLabelValues("store1", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pruneMetrics.RemovedSnapshotsTotal.WithLabelValues("store1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pruneMetrics.KeptSnapshotsGauge.WithLabelValues("store1")))

	// empty policy is a failed run
	sched.runPrune(store, config.DatastoreConfig{Name: "store1"})
	assert.Equal(t, 1.0, testutil.ToFloat64(pruneMetrics.RunsTotal.WithLabelValues("store1", "failed")))
}
