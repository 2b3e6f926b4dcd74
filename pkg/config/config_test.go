package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.False(t, c.Engine.Offline)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "text", c.Logging.Format)
	assert.False(t, c.Status.Enabled)
}

func TestLoad_NoFile_UsesDefaults(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("CONTAINUST_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CONTAINUST_STATE_FILE", filepath.Join(dir, "data", "state.json"))

	c, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), c.Storage.DataDir)
	_, err = os.Stat(c.Storage.DataDir)
	assert.NoError(t, err, "Load should create the data directory")
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("CONTAINUST_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CONTAINUST_STATE_FILE", filepath.Join(dir, "data", "state.json"))
	t.Setenv("CONTAINUST_OFFLINE", "true")
	t.Setenv("CONTAINUST_LOG", "debug")

	c, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.True(t, c.Engine.Offline)
	assert.Equal(t, "debug", c.Logging.Level)
}

func TestLoad_InvalidLogLevel_Errors(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("CONTAINUST_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CONTAINUST_STATE_FILE", filepath.Join(dir, "data", "state.json"))
	t.Setenv("CONTAINUST_LOG", "verbose")

	_, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "containust.yaml")

	c := DefaultConfig()
	c.Logging.Level = "warn"
	require.NoError(t, SaveConfig(c, path))

	resetViper(t)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.Logging.Level)
}
