package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":9633", cfg.Observability.MetricsAddr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.Empty(t, cfg.Datastores)
	require.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o640))
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
datastores:
  - name: store1
    path: /srv/backups/store1
    comment: primary store
    gcSchedule: "0 3 * * *"
    pruneSchedule: "30 3 * * *"
    keep:
      keep-last: 3
      keep-daily: 7
  - name: store2
    path: /srv/backups/store2
observability:
  logLevel: debug
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Len(t, cfg.Datastores, 2)

	ds, ok := cfg.Datastore("store1")
	require.True(t, ok)
	assert.Equal(t, "/srv/backups/store1", ds.Path)
	assert.Equal(t, "0 3 * * *", ds.GCSchedule)
	require.NotNil(t, ds.Keep.KeepLast)
	assert.EqualValues(t, 3, *ds.Keep.KeepLast)
	require.NotNil(t, ds.Keep.KeepDaily)
	assert.EqualValues(t, 7, *ds.Keep.KeepDaily)
	assert.Nil(t, ds.Keep.KeepHourly)

	// file value overrides the default, untouched fields keep defaults
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, ":9633", cfg.Observability.MetricsAddr)

	_, ok = cfg.Datastore("missing")
	assert.False(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
observability:
  logLevel: warn
  metricsAddr: ":9000"
`)
	t.Setenv("STASHD_LOG_LEVEL", "debug")
	t.Setenv("STASHD_METRICS_ADDR", ":9999")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, ":9999", cfg.Observability.MetricsAddr)
}

func TestLoadUsesEnvConfigPath(t *testing.T) {
	path := writeConfig(t, `
datastores:
  - name: store1
    path: /srv/backups/store1
`)
	t.Setenv("STASHD_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Datastores, 1)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "datastores:\n  - path: /x\n",
			want: "name is required",
		},
		{
			name: "missing path",
			body: "datastores:\n  - name: store1\n",
			want: "path is required",
		},
		{
			name: "duplicate name",
			body: "datastores:\n  - name: store1\n    path: /a\n  - name: store1\n    path: /b\n",
			want: "duplicate name",
		},
		{
			name: "bad cron",
			body: "datastores:\n  - name: store1\n    path: /a\n    gcSchedule: \"not cron\"\n",
			want: "invalid gcSchedule",
		},
		{
			name: "prune without keeps",
			body: "datastores:\n  - name: store1\n    path: /a\n    pruneSchedule: \"0 4 * * *\"\n",
			want: "keep policy is empty",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
