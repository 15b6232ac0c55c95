package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.EqualValues(t, 25_000, cfg.Execution.MaxInstructions)
	require.EqualValues(t, 1000, cfg.Execution.TimerLimitMillis)
	require.EqualValues(t, 1, cfg.Execution.TimerCheckInterval)
	require.False(t, cfg.Execution.StrictBuiltinErrors)

	require.Equal(t, 256, cfg.Dispatch.MaxRuleWindowSize)
	require.Equal(t, 1024, cfg.Dispatch.WindowSize)

	require.Equal(t, time.Second, cfg.TimerLimit())
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.MaxInstructions = 500
	cfg.Dispatch.WindowSize = 64
	cfg.Logging.Level = "debug"

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
