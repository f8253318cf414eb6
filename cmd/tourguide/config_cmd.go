package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tourguide/internal/config"
	"github.com/mattjoyce/tourguide/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide config lock [--config PATH] [-v|--verbose] [--dry-run]")
			fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide config check [--config PATH] [--strict] [--json]")
			fmt.Println("Validate configuration syntax, policy, and integrity.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide config show [--config PATH] [--json]")
			fmt.Println("Show the resolved configuration with defaults applied.")
			return 0
		}
		return runConfigShow(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tourguide config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check, show")
}

// CheckResult is the machine-readable outcome of 'config check'.
type CheckResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	Files    []string `json:"files,omitempty"`
	Workers  int      `json:"workers"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	result := CheckResult{Valid: true, Config: path}

	integrity, err := config.VerifyIntegrity(path)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Errors = append(result.Errors, integrity.Errors...)
		result.Warnings = append(result.Warnings, integrity.Warnings...)
		if !integrity.Passed {
			result.Valid = false
		}
	}

	// Integrity problems are reported above; Load would stop at the first one.
	if result.Valid {
		cfg, err := config.Load(path)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Files = cfg.SourceFiles
			lint := doctor.New(cfg).Validate()
			for _, issue := range lint.Errors {
				result.Errors = append(result.Errors, issue.String())
			}
			for _, issue := range lint.Warnings {
				result.Warnings = append(result.Warnings, issue.String())
			}
			if !lint.Valid {
				result.Valid = false
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				result.Valid = false
				result.Errors = append(result.Errors, err.Error())
			} else {
				result.Workers = rt.roster.Len()
			}
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		printCheckHuman(result)
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func printCheckHuman(r CheckResult) {
	for _, e := range r.Errors {
		fmt.Printf("ERROR   %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Printf("WARNING %s\n", w)
	}
	if r.Valid {
		fmt.Printf("Configuration OK: %s (%d files, %d workers)\n", r.Config, len(r.Files), r.Workers)
	} else {
		fmt.Println("Configuration check FAILED.")
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	var verbose bool
	fs.BoolVar(&verbose, "verbose", false, "Print each hashed file")
	fs.BoolVar(&verbose, "v", false, "Print each hashed file (shorthand)")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing .checksums")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	files, err := config.DiscoverAllConfigFiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}

	report, err := config.GenerateChecksums(files, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	if verbose {
		for _, f := range report.Files {
			fmt.Printf("HASH %s: %s\n", f.Path, f.Hash)
		}
	}
	for _, p := range report.ChecksumPaths {
		if *dryRun {
			fmt.Printf("Dry-run: would write %s\n", p)
		} else {
			fmt.Printf("Wrote %s\n", p)
		}
	}
	fmt.Printf("Locked %d file(s).\n", len(report.Files))
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redact(cfg)

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

// redact hides credentials before printing.
func redact(cfg *config.Config) {
	const hidden = "********"
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = hidden
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = hidden
	}
	for id, w := range cfg.Workers {
		if w.APIKey != "" {
			w.APIKey = hidden
			cfg.Workers[id] = w
		}
	}
	if cfg.Webhooks != nil {
		for i := range cfg.Webhooks.Endpoints {
			cfg.Webhooks.Endpoints[i].Secret = hidden
		}
	}
}
