package main

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("EVSRC_DB", "")
	_, err := loadConfig()
	require.Error(t, err)

	t.Setenv("EVSRC_DB", "/tmp/es.db")
	t.Setenv("EVSRC_LOG_LEVEL", "DEBUG")
	t.Setenv("EVSRC_BATCH_SIZE", "0")
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "/tmp/es.db", cfg.DBPath)
	require.Equal(t, slog.LevelDebug, cfg.level())
	require.Equal(t, 100, cfg.BatchSize)
}

func TestRun_Tail(t *testing.T) {
	t.Setenv("EVSRC_DB", filepath.Join(t.TempDir(), "es.db"))
	t.Setenv("EVSRC_CHECKPOINT", "esctl")

	require.NoError(t, run([]string{"tail"}))
	require.NoError(t, run([]string{"events", "a"}))
	require.Error(t, run([]string{"events"}))
	require.Error(t, run([]string{"nope"}))
	require.Error(t, run(nil))
}
