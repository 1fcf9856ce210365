package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

type config struct {
	DBPath    string `env:"EVSRC_DB,required,notEmpty"`
	LogLevel  string `env:"EVSRC_LOG_LEVEL" envDefault:"info"`
	BatchSize int    `env:"EVSRC_BATCH_SIZE" envDefault:"100"`
	// Checkpoint is the kv key tail resumes from; empty disables resuming.
	Checkpoint string `env:"EVSRC_CHECKPOINT"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return cfg, nil
}

func (c config) level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
