package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 6, c.Forecast.Horizon)
	assert.Equal(t, 20, c.Forecast.Window)
	assert.InDelta(t, 0.01, c.Forecast.Alpha, 1e-12)
	assert.Equal(t, "every_step", c.Forecast.Cadence)
	assert.Equal(t, "auto", c.Forecast.Solver)
	assert.Equal(t, "csv", c.Source.Type)
	assert.Equal(t, "none", c.Backend.Type)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 5*time.Minute, c.Cache.TTL)
}

func TestParseOverridesDefaults(t *testing.T) {
	yml := `
environment: prod
forecast:
  horizon: 12
  window: 40
  cadence: once
  solver: mm
  levels: [0.1, 0.5, 0.9]
source:
  type: clickhouse
`
	c, err := Parse([]byte(yml))
	require.NoError(t, err)
	assert.Equal(t, 12, c.Forecast.Horizon)
	assert.Equal(t, 40, c.Forecast.Window)
	assert.Equal(t, "once", c.Forecast.Cadence)
	assert.Equal(t, "mm", c.Forecast.Solver)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, c.Forecast.Levels)
	assert.True(t, c.UsesClickHouse())
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad cadence":  "forecast:\n  cadence: sometimes\n",
		"bad solver":   "forecast:\n  solver: magic\n",
		"bad level":    "forecast:\n  levels: [0.5, 1.2]\n",
		"zero horizon": "forecast:\n  horizon: 0\n",
		"kafka off":    "backend:\n  type: kafka\n",
		"bad backend":  "backend:\n  type: s3\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: dev\n"), 0o600))

	t.Setenv("FINBAND_SOURCE", "clickhouse")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", c.Source.Type)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Len(t, c.Forecast.Levels, 7)
	assert.Equal(t, []string{"High", "Close", "Volume", "Low", "RSI_14", "MACD_12_26_9", "SMA_50"}, c.Forecast.Features)
	assert.Equal(t, 256, c.Backend.BufferSize)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, 1048576, c.Kafka.Producer.BatchBytes)
}
