package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("U360_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.PrometheusURL)
	assert.Equal(t, "http://localhost:8086", cfg.InfluxURL)
	assert.Equal(t, "u360", cfg.InfluxDatabase)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.DeviceStaleAfter)
	assert.Equal(t, "@every 1m", cfg.RuleSchedule)
	assert.Equal(t, "@every 2m", cfg.UpDownSchedule)
	assert.Equal(t, "@every 10m", cfg.ITAMSchedule)
	assert.Equal(t, "@every 6h", cfg.ComplianceSchedule)
	assert.Equal(t, ":9750", cfg.MetricsListen)

	// Fortigate collectors share the main Influx instance unless overridden.
	assert.Equal(t, cfg.InfluxURL, cfg.FortigateInfluxURL)
	assert.Equal(t, cfg.InfluxDatabase, cfg.FortigateInfluxDB)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("U360_DATA_DIR", t.TempDir())
	t.Setenv("PROMETHEUS_URL", "http://prom.internal:9090")
	t.Setenv("FORTIGATE_INFLUXDB_URL", "http://fgt-influx:8086")
	t.Setenv("FORTIGATE_INFLUXDB_DB", "fortigate")
	t.Setenv("ALERT_WORKERS", "8")
	t.Setenv("DEVICE_STALE_SECONDS", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://prom.internal:9090", cfg.PrometheusURL)
	assert.Equal(t, "http://fgt-influx:8086", cfg.FortigateInfluxURL)
	assert.Equal(t, "fortigate", cfg.FortigateInfluxDB)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10*time.Minute, cfg.DeviceStaleAfter)
}

func TestLoadRejectsBadWorkerCount(t *testing.T) {
	t.Setenv("U360_DATA_DIR", t.TempDir())
	t.Setenv("ALERT_WORKERS", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALERT_WORKERS")
}

func TestLoadInvalidIntegerFallsBack(t *testing.T) {
	t.Setenv("U360_DATA_DIR", t.TempDir())
	t.Setenv("ALERT_WORKERS", "many")
	t.Setenv("QUERY_TIMEOUT_SECONDS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
}

func TestLoadITAMInboxDefaultsUnderDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("U360_DATA_DIR", dataDir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.ITAMInboxDir, dataDir)
}
