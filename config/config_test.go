package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafe/ml"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data:
  path: accidents-2021.csv
  encoding: windows-1252
  allow_partial: true
  strict_quotes: true
  columns:
    vehicle_type: 20
training:
  train_fraction: 0.7
  shuffle: true
  seed: 99
http:
  port: 9090
  timeout: 5s
  metrics_interval: 30s
log:
  level: debug
  file: logs/roadsafe.log
`)

	c, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "accidents-2021.csv", c.Data.Path)
	assert.Equal(t, "windows-1252", c.Data.Encoding)
	assert.True(t, c.Data.AllowPartial)
	assert.Equal(t, 20, c.Data.Columns.VehicleType)
	assert.Equal(t, 3, c.Data.Columns.JunctionControl, "unset columns keep defaults")
	assert.True(t, c.Data.SkipHeader)
	assert.Equal(t, ml.MissingValue, c.Data.MissingValue)
	assert.InDelta(t, 0.7, c.Training.TrainFraction, 1e-12)
	assert.True(t, c.Training.Shuffle)
	assert.Equal(t, int64(99), c.Training.Seed)
	assert.Equal(t, 9090, c.HTTP.Port)
	assert.Equal(t, 5*time.Second, c.HTTP.Timeout)
	assert.Equal(t, 30*time.Second, c.HTTP.MetricsInterval)
	assert.Equal(t, time.Second, c.HTTP.WatchDebounce, "unset http keys keep defaults")
	assert.True(t, c.LoaderConfig().StrictQuotes)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "logs/roadsafe.log", c.Log.File)
	assert.Equal(t, 50, c.Log.MaxSizeMB)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")

	c, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	_, err = Load(missing, true)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyFile(t *testing.T) {
	c, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "fraction zero", body: "training:\n  train_fraction: 0\n"},
		{name: "fraction above one", body: "training:\n  train_fraction: 1.2\n"},
		{name: "unknown encoding", body: "data:\n  encoding: martian\n"},
		{name: "negative column", body: "data:\n  columns:\n    junction_detail: -4\n"},
		{name: "long delimiter", body: "data:\n  delimiter: ';;'\n"},
		{name: "bad yaml", body: "data: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), true)
			assert.Error(t, err)
		})
	}
}

func TestLoaderConfig(t *testing.T) {
	c := Default()
	c.Data.Delimiter = ";"
	lc := c.LoaderConfig()

	assert.Equal(t, ';', lc.Delimiter)
	assert.Equal(t, 22, lc.ExpectedColumns)
	assert.Equal(t, c.Data.Columns, lc.Columns)
	assert.Equal(t, c.Database.Path, c.StorageConfig().DBPath)
}
