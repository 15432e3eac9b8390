package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalString(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"90s"`), &d))
	require.Equal(t, 90*time.Second, d.Std())
}

func TestDurationUnmarshalSeconds(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`45`), &d))
	require.Equal(t, 45*time.Second, d.Std())
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration
	require.Error(t, yaml.Unmarshal([]byte(`"not-a-duration"`), &d))
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, 8123, cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, time.Duration(0), cfg.Server.WriteTimeout.Std())
	require.Equal(t, time.Hour, cfg.Runs.EventBufferTTL.Std())
	require.Equal(t, 1024, cfg.Runs.ThreadCacheSize)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  environment: production
  sse_ping_interval: 5s
runs:
  event_buffer_ttl: 10m
postgres:
  dsn: postgres://localhost/strand
observability:
  logging:
    level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "production", cfg.Server.Environment)
	require.Equal(t, 5*time.Second, cfg.Server.SSEPingInterval.Std())
	require.Equal(t, 10*time.Minute, cfg.Runs.EventBufferTTL.Std())
	require.Equal(t, "postgres://localhost/strand", cfg.Postgres.DSN)
	require.Equal(t, "debug", cfg.Observability.Logging.Level)

	// Untouched fields keep defaults.
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Std())
	require.Equal(t, 5*time.Minute, cfg.Runs.ReaperInterval.Std())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
