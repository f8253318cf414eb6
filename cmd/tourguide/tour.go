package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/tempo"
	"github.com/mattjoyce/tourguide/internal/tui/watch"
)

func runTourNoun(args []string) int {
	if len(args) < 1 {
		printTourNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printTourNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "run":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour run --route FILE [--config PATH] [--mode MODE] [--interval SECONDS] [--time-scale X] [--json] [--save] [--watch]")
			fmt.Println("Run a tour in the foreground and print the final report.")
			return 0
		}
		return runTourRun(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour watch <run_id> [--api URL] [--api-key KEY]")
			fmt.Println("Watch a tour running on a tourguide server. Defaults come from $TOURGUIDE_API_URL and $TOURGUIDE_API_KEY.")
			return 0
		}
		return runTourWatch(actionArgs)
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour list [--config PATH] [--limit N] [--json]")
			fmt.Println("Show saved tours, newest first.")
			return 0
		}
		return runTourList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour show <run_id> [--config PATH] [--json]")
			fmt.Println("Show the full report of a saved tour.")
			return 0
		}
		return runTourShow(actionArgs)
	case "stats":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour stats [--config PATH] [--json]")
			fmt.Println("Show junction wins per category across all saved tours.")
			return 0
		}
		return runTourStats(actionArgs)
	case "delete":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide tour delete <run_id> [--config PATH]")
			fmt.Println("Delete a saved tour.")
			return 0
		}
		return runTourDelete(actionArgs)
	case "help":
		printTourNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown tour action: %s\n", action)
		return 1
	}
}

func printTourNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tourguide tour <action> [flags]")
	fmt.Fprintln(w, "Actions: run, watch, list, show, stats, delete")
}

func runTourRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	routePath := fs.String("route", "", "Path to a route file (YAML or JSON)")
	mode := fs.String("mode", "", "Dispatch mode override (fixed_interval, duration_proportional, manual)")
	interval := fs.Float64("interval", 0, "Seconds between junctions in fixed_interval mode")
	timeScale := fs.Float64("time-scale", 0, "Route time multiplier in duration_proportional mode")
	jsonOut := fs.Bool("json", false, "Print the summary as JSON")
	save := fs.Bool("save", false, "Save the finished tour to the state database")
	watchTUI := fs.Bool("watch", false, "Show the live tour view")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *routePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --route is required")
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger := setupLogging(cfg, *watchTUI)

	r, err := route.LoadFile(*routePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load route: %v\n", err)
		return 1
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	tc := cfg.TempoConfig()
	if *mode != "" {
		m, err := tempo.ParseMode(*mode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		tc.Mode = m
	}
	if *interval > 0 {
		tc.Interval = time.Duration(*interval * float64(time.Second))
	}
	if *timeScale > 0 {
		tc.TimeScale = *timeScale
	}
	if tc.Mode == tempo.ModeManual && !*watchTUI {
		fmt.Fprintln(os.Stderr, "Error: manual mode needs --watch to trigger junctions")
		return 1
	}

	hub := events.NewHub(512)
	o, err := orchestrator.New(orchestrator.Config{Tempo: tc, MaxInFlight: cfg.Processor.MaxInFlight}, rt.proc, hub, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		o.Stop()
	}()

	logger.Info("tour starting", "run_id", o.RunID(), "route", *routePath, "junctions", r.JunctionCount(), "mode", tc.Mode)
	if _, err := o.Start(ctx, r, false); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start tour: %v\n", err)
		return 1
	}

	if *watchTUI {
		src := watch.HubSource{Hub: hub, RunID: o.RunID(), Actions: controlFor(o)}
		if _, err := watch.Run(src, watch.Options{RunID: o.RunID()}); err != nil {
			fmt.Fprintf(os.Stderr, "Watch view failed: %v\n", err)
		}
		// Quitting the view ends the tour.
		o.Stop()
	}

	final, err := o.Wait(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tour failed: %v\n", err)
		return 1
	}

	if *save {
		store, closeDB, err := openStore(context.Background(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
			return 1
		}
		defer closeDB()
		if err := store.Save(context.Background(), final); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save tour: %v\n", err)
			return 1
		}
		logger.Info("tour saved", "run_id", final.RunID, "path", cfg.State.Path)
	}

	if err := printReport(final, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print report: %v\n", err)
		return 1
	}
	if !final.Success {
		return 1
	}
	return 0
}

func controlFor(o *orchestrator.Orchestrator) func(string) error {
	return func(action string) error {
		switch action {
		case "pause":
			return o.Pause()
		case "resume":
			return o.Resume()
		case "trigger":
			return o.Trigger()
		case "stop":
			o.Stop()
			return nil
		}
		return fmt.Errorf("unknown action %q", action)
	}
}

func printReport(r *report.FinalReport, jsonOut bool) error {
	if jsonOut {
		data, err := json.MarshalIndent(r.Summary(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	return report.RenderText(os.Stdout, r)
}

func runTourWatch(args []string) int {
	runID, rest := splitPositional(args, nil)

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api", envOr("TOURGUIDE_API_URL", "http://127.0.0.1:8080"), "Base URL of the tourguide server")
	apiKey := fs.String("api-key", os.Getenv("TOURGUIDE_API_KEY"), "Bearer token with events:ro")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Usage: tourguide tour watch <run_id> [--api URL] [--api-key KEY]")
		return 1
	}

	src := watch.APISource{BaseURL: *apiURL, APIKey: *apiKey, RunID: runID}
	if _, err := watch.Run(src, watch.Options{RunID: runID}); err != nil {
		fmt.Fprintf(os.Stderr, "Watch view failed: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runTourList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of tours")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	store, closeDB, code := storeForTool(*configPath)
	if store == nil {
		return code
	}
	defer closeDB()

	runs, err := store.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(runs) == 0 {
		fmt.Println("No saved tours.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tJUNCTIONS\tROUTE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s → %s\n",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status,
			r.CompletedJunctions, r.TotalJunctions, r.Source, r.Destination)
	}
	_ = tw.Flush()
	return 0
}

func runTourShow(args []string) int {
	runID, rest := splitPositional(args, map[string]bool{"json": true})

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Usage: tourguide tour show <run_id> [--config PATH] [--json]")
		return 1
	}

	store, closeDB, code := storeForTool(*configPath)
	if store == nil {
		return code
	}
	defer closeDB()

	rep, err := store.Get(context.Background(), runID)
	if errors.Is(err, state.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Tour %s not found\n", runID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		return 1
	}
	if err := printReport(rep, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print report: %v\n", err)
		return 1
	}
	return 0
}

func runTourStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	store, closeDB, code := storeForTool(*configPath)
	if store == nil {
		return code
	}
	defer closeDB()

	totals, err := store.CategoryTotals(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		data, _ := json.MarshalIndent(totals, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	cats := make([]string, 0, len(totals))
	for c := range totals {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Printf("%-8s %d\n", c, totals[c])
	}
	return 0
}

func runTourDelete(args []string) int {
	runID, rest := splitPositional(args, nil)

	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Usage: tourguide tour delete <run_id> [--config PATH]")
		return 1
	}

	store, closeDB, code := storeForTool(*configPath)
	if store == nil {
		return code
	}
	defer closeDB()

	if err := store.Delete(context.Background(), runID); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted tour %s\n", runID)
	return 0
}

// storeForTool opens the history store for read-only commands. On failure it
// prints the error and returns a nil store with the exit code.
func storeForTool(configPath string) (*state.Store, func() error, int) {
	cfg, _, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, nil, 1
	}
	setupLogging(cfg, false)

	store, closeDB, err := openStore(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return nil, nil, 1
	}
	return store, closeDB, 0
}
