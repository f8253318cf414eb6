package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/webhook"
)

func runRouteNoun(args []string) int {
	if len(args) < 1 {
		printRouteNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRouteNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide route inspect --route FILE [--json]")
			fmt.Println("Validate a route file and print its junctions.")
			return 0
		}
		return runRouteInspect(actionArgs)
	case "push":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: tourguide route push --route FILE --url URL [--secret SECRET] [--header NAME]")
			fmt.Println("Sign a route file and push it to a tourguide webhook. The secret defaults to $TOURGUIDE_WEBHOOK_SECRET.")
			return 0
		}
		return runRoutePush(actionArgs)
	case "help":
		printRouteNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown route action: %s\n", action)
		return 1
	}
}

func printRouteNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tourguide route <action> [flags]")
	fmt.Fprintln(w, "Actions: inspect, push")
}

type routeInspection struct {
	Fingerprint string       `json:"fingerprint"`
	Route       *route.Route `json:"route"`
}

func runRouteInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	routePath := fs.String("route", "", "Path to a route file (YAML or JSON)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *routePath == "" && fs.NArg() > 0 {
		*routePath = fs.Arg(0)
	}
	if *routePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --route is required")
		return 1
	}

	r, err := route.LoadFile(*routePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid route: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(routeInspection{Fingerprint: r.Fingerprint(), Route: r}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("%s → %s\n", r.Source, r.Destination)
	fmt.Printf("%d junctions · %s · %s\n", r.JunctionCount(), r.TotalDistanceText(), r.TotalDurationText())
	fmt.Printf("fingerprint %s\n", r.Fingerprint())
	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURN\tAT\tADDRESS\tSEARCH")
	for _, j := range r.Junctions {
		fmt.Fprintf(tw, "%d\t%s\t%.0fs\t%s\t%s\n",
			j.ID, j.Turn, j.CumulativeDurationSeconds, j.Address, strings.Join(j.SearchTerms(), "; "))
	}
	_ = tw.Flush()
	return 0
}

func runRoutePush(args []string) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	routePath := fs.String("route", "", "Path to a route file (YAML or JSON)")
	url := fs.String("url", "", "Webhook URL, e.g. http://127.0.0.1:8081/hooks/route")
	secret := fs.String("secret", os.Getenv("TOURGUIDE_WEBHOOK_SECRET"), "Shared webhook secret")
	header := fs.String("header", webhook.DefaultSignatureHeader, "Signature header name")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *routePath == "" || *url == "" {
		fmt.Fprintln(os.Stderr, "Error: --route and --url are required")
		return 1
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Error: --secret or $TOURGUIDE_WEBHOOK_SECRET is required")
		return 1
	}

	body, err := os.ReadFile(*routePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read route: %v\n", err)
		return 1
	}
	// Catch bad routes locally instead of spending a request on them.
	if _, err := route.Parse(body); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid route: %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	req.Header.Set(*header, webhook.Sign(body, *secret))
	req.Header.Set("Content-Type", "application/yaml")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Push failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusAccepted {
		var e webhook.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			fmt.Fprintf(os.Stderr, "Push rejected (%d): %s\n", resp.StatusCode, e.Error)
		} else {
			fmt.Fprintf(os.Stderr, "Push rejected (%d)\n", resp.StatusCode)
		}
		return 1
	}

	var ok webhook.TriggerResponse
	if err := json.Unmarshal(respBody, &ok); err != nil {
		fmt.Fprintf(os.Stderr, "Unexpected response: %v\n", err)
		return 1
	}
	fmt.Printf("Tour started: %s (%d junctions)\n", ok.RunID, ok.Junctions)
	return 0
}
