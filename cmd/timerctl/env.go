package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"timersync/backend/internal/config"
	"timersync/backend/internal/relay"
	"timersync/backend/internal/sharedstore"
)

// env holds what every subcommand opens: the shared store and the wake relay.
type env struct {
	cfg    config.Config
	store  *sharedstore.Store
	relay  *relay.FileRelay
	logger *slog.Logger
}

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backend, err := sharedstore.OpenSQLite(cfg.Local.SharedStorePath)
	if err != nil {
		return nil, fmt.Errorf("open shared store: %w", err)
	}
	fileRelay, err := relay.NewFileRelay(cfg.Local.SignalDir, logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open signal dir: %w", err)
	}

	return &env{
		cfg:    cfg,
		store:  sharedstore.New(backend),
		relay:  fileRelay,
		logger: logger,
	}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

func timerTypeFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("timer-type")
	return v
}

func activityFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("activity")
	return v
}
