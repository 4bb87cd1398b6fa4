package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Greater(t, cfg.Workers, 0)
	assert.Equal(t, 128, cfg.Backlog)
	assert.False(t, cfg.DirectIO)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("workers: 3\nbacklog: 64\ndirect_io: true\nlog_level: debug\nvendor: ACME\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vdev-config.yaml"), content, 0o644))
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 64, cfg.Backlog)
	assert.True(t, cfg.DirectIO)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ACME", cfg.Vendor)
}

func TestLoadClampsBadValues(t *testing.T) {
	dir := t.TempDir()
	content := []byte("workers: -4\nbacklog: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vdev-config.yaml"), content, 0o644))
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Greater(t, cfg.Workers, 0)
	assert.Equal(t, 128, cfg.Backlog)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("VDEV_WORKERS", "7")
	t.Setenv("VDEV_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, "json", cfg.LogFormat)
}

func chdir(t *testing.T, dir string) {
	t.Helper()

	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
}
