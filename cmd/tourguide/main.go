package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := argv[0]
	args := argv[1:]

	switch cmd {
	case "tour":
		return runTourNoun(args)
	case "route":
		return runRouteNoun(args)
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// Root aliases
	case "serve":
		return runServe(args)
	case "version":
		fmt.Printf("tourguide version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `tourguide - Junction-by-junction content for a drive

Usage:
  tourguide <noun> <action> [flags]

Core Resources (Nouns):
  tour      Run, watch and review tours
  route     Route file tools
  system    Server lifecycle
  config    Configuration and integrity

Tour Commands:
  tour run --route FILE      Run a tour in the foreground
  tour watch <run_id>        Watch a tour on a running server
  tour list                  Show saved tours
  tour show <run_id>         Show a saved tour
  tour stats                 Show category wins across saved tours
  tour delete <run_id>       Delete a saved tour

Route Commands:
  route inspect --route FILE Validate a route and print its junctions
  route push --route FILE --url URL
                             Sign a route and push it to a webhook

System Commands:
  system serve               Start the API and webhook servers

Config Commands:
  config lock                Authorize current state (update integrity hashes)
  config check               Validate syntax, policy, and integrity
  config show                Print the resolved config with secrets hidden

General:
  version                    Show version information
  help                       Show this help message

Use 'tourguide <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitPositional separates the first non-flag argument so flags may follow
// it, as in 'tourguide tour show <id> --json'.
func splitPositional(args []string, boolFlags map[string]bool) (string, []string) {
	var positional string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if positional == "" && len(arg) > 0 && arg[0] != '-' {
			positional = arg
			continue
		}
		rest = append(rest, arg)
		// A value-taking flag consumes the next argument.
		if len(arg) > 1 && arg[0] == '-' && !boolFlags[strings.TrimLeft(arg, "-")] && !strings.Contains(arg, "=") && i+1 < len(args) {
			i++
			rest = append(rest, args[i])
		}
	}
	return positional, rest
}
