package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/tourguide/internal/api"
	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/lock"
	"github.com/mattjoyce/tourguide/internal/log"
	"github.com/mattjoyce/tourguide/internal/tour"
	"github.com/mattjoyce/tourguide/internal/webhook"
)

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "serve", "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide system serve [--config PATH]")
			fmt.Println("Start the tour API and webhook servers in the foreground.")
			return 0
		}
		return runServe(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tourguide system <action>")
	fmt.Fprintln(w, "Actions: serve")
}

type server interface {
	Start(ctx context.Context) error
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolved, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger := setupLogging(cfg, false)
	logger.Info("tourguide starting", "version", version, "config", resolved)

	if !cfg.API.Enabled && cfg.Webhooks == nil {
		logger.Error("nothing to serve; set api.enabled: true or configure webhooks")
		return 1
	}

	pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	store, closeDB, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer closeDB()
	logger.Info("database opened", "path", cfg.State.Path)

	rt, err := buildRuntime(cfg)
	if err != nil {
		logger.Error("failed to build workers", "error", err)
		return 1
	}
	logger.Info("workers loaded", "workers", rt.roster.IDs(), "remote", len(rt.roster.Remote))

	hub := events.NewHub(1024)
	manager := tour.NewManager(tour.Config{
		Tempo:              cfg.TempoConfig(),
		MaxInFlight:        cfg.Processor.MaxInFlight,
		MaxConcurrentTours: cfg.API.MaxConcurrentTours,
	}, rt.proc, hub, store, log.WithComponent("tour"))

	var servers []server
	if cfg.API.Enabled {
		breakers := make([]api.BreakerReporter, 0, len(rt.roster.Remote))
		for _, w := range rt.roster.Remote {
			breakers = append(breakers, w)
		}
		servers = append(servers, api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: cfg.API.Auth.Tokens,
		}, manager, hub, rt.roster.Len(), breakers, log.WithComponent("api")))
	}
	if cfg.Webhooks != nil {
		wc, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("invalid webhooks config", "error", err)
			return 1
		}
		servers = append(servers, webhook.New(wc, manager, log.WithComponent("webhook")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}
	go func() {
		wg.Wait()
		close(errCh)
	}()
	logger.Info("tourguide running (press Ctrl+C to stop)", "servers", len(servers))

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok {
			logger.Error("server failed", "error", err)
			code = 1
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("tours did not stop in time", "error", err)
		code = 1
	}
	for err := range errCh {
		logger.Error("server failed during shutdown", "error", err)
	}
	logger.Info("tourguide stopped")
	return code
}
