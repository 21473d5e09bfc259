package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashd-io/stashd/internal/config"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/prune"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatJSON,
		Output: io.Discard,
	})
}

func serverConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.Datastores = []config.DatastoreConfig{
		{
			Name:          "store1",
			Path:          filepath.Join(t.TempDir(), "store1"),
			GCSchedule:    "0 3 * * *",
			PruneSchedule: "30 3 * * *",
			Keep:          prune.Options{KeepLast: prune.Keep(3)},
		},
		{
			Name: "store2",
			Path: filepath.Join(t.TempDir(), "store2"),
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewServerOpensDatastores(t *testing.T) {
	srv, err := NewServer(ServerOptions{
		Config:   serverConfig(t),
		Logger:   testLogger(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	assert.Len(t, srv.stores, 2)
	assert.Equal(t, 2, srv.sched.Jobs(), "only store1 has schedules")
}

func TestServerStartShutdown(t *testing.T) {
	srv, err := NewServer(ServerOptions{
		Config:   serverConfig(t),
		Logger:   testLogger(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	srv.Start()

	select {
	case err := <-srv.Err():
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestNewServerRejectsBadSchedule(t *testing.T) {
	cfg := serverConfig(t)
	cfg.Datastores[0].GCSchedule = "bogus"

	_, err := NewServer(ServerOptions{
		Config:   cfg,
		Logger:   testLogger(),
		Registry: prometheus.NewRegistry(),
	})
	require.Error(t, err)
}

func TestKeepFlags(t *testing.T) {
	opts := keepFlags(0, 0, 0, 0, 0, 0)
	assert.True(t, opts.IsEmpty())

	opts = keepFlags(3, 0, 7, 0, 0, 1)
	require.NotNil(t, opts.KeepLast)
	assert.EqualValues(t, 3, *opts.KeepLast)
	assert.Nil(t, opts.KeepHourly)
	require.NotNil(t, opts.KeepDaily)
	assert.EqualValues(t, 7, *opts.KeepDaily)
	require.NotNil(t, opts.KeepYearly)
	assert.EqualValues(t, 1, *opts.KeepYearly)
}
