package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Base.InitPriority)
	assert.Equal(t, 10, cfg.Stdin.Lines)
	assert.Equal(t, "heartbeat", cfg.Timer.Name)
	assert.Equal(t, time.Minute, cfg.Echo.IdleTimeout)
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evdemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base:
  max_priority: 3
  max_events: 64
timer:
  interval: 0.5
echo:
  address: 127.0.0.1:0
  compress: true
  idle_timeout: 30s
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Base.MaxPriority)
	assert.Equal(t, 64, cfg.Base.MaxEvents)
	assert.True(t, cfg.Base.InitPriority)
	assert.Equal(t, 0.5, cfg.Timer.Interval)
	assert.Equal(t, 5, cfg.Timer.Count)
	assert.True(t, cfg.Echo.Compress)
	assert.Equal(t, 30*time.Second, cfg.Echo.IdleTimeout)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("echo:\n  adress: x\n"), 0o644))
	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "adress")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
