package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattjoyce/tourguide/internal/config"
	"github.com/mattjoyce/tourguide/internal/log"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/storage"
)

// loadConfigForTool loads an explicit path or falls back to discovery.
func loadConfigForTool(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	return cfg, configPath, err
}

// setupLogging configures the process logger. Quiet sends logs nowhere so a
// full-screen view is not overwritten.
func setupLogging(cfg *config.Config, quiet bool) *slog.Logger {
	if quiet {
		log.SetupWriter(io.Discard, cfg.Service.LogLevel, cfg.Service.LogFormat)
	} else {
		log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	return log.WithComponent("main")
}

type runtime struct {
	proc   *processor.Processor
	roster *config.Roster
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	roster, err := config.BuildRoster(cfg, nil, log.WithComponent("workers"))
	if err != nil {
		return nil, fmt.Errorf("build workers: %w", err)
	}
	j, err := config.BuildJudge(cfg)
	if err != nil {
		return nil, fmt.Errorf("build judge: %w", err)
	}
	proc, err := processor.New(roster.Roster, j, cfg.AgentTimeout(), log.WithComponent("processor"))
	if err != nil {
		return nil, err
	}
	return &runtime{proc: proc, roster: roster}, nil
}

// openStore opens the tour history database. The caller closes it.
func openStore(ctx context.Context, cfg *config.Config) (*state.Store, func() error, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.State.Path, err)
	}
	return state.NewStore(db), db.Close, nil
}
