// Package doctor lints a loaded tourguide configuration for settings that
// parse fine but make for a poor tour.
package doctor

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/config"
)

// Result holds the outcome of a lint run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Category, i.Message)
}

// Doctor checks a config that has already passed config.Load.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkCategoryCoverage(r)
	d.checkJudgeWeights(r)
	d.checkTempo(r)
	d.checkHTTPWorkers(r)
	d.checkSimulatedWorkers(r)
	d.checkAPIAuth(r)
	d.checkWebhooks(r)
	d.checkState(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) enabledWorkers() []string {
	ids := make([]string, 0, len(d.cfg.Workers))
	for id, w := range d.cfg.Workers {
		if w.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// checkCategoryCoverage warns about categories no enabled worker serves.
func (d *Doctor) checkCategoryCoverage(r *Result) {
	covered := make(map[string]bool)
	for _, id := range d.enabledWorkers() {
		covered[strings.ToLower(d.cfg.Workers[id].Category)] = true
	}
	for _, cat := range capability.Categories {
		if !covered[string(cat)] {
			d.addWarning(r, "workers", "workers",
				fmt.Sprintf("no enabled worker for category %q; it can never win a junction", cat))
		}
	}
}

func (d *Doctor) checkJudgeWeights(r *Result) {
	covered := make(map[string]bool)
	for _, id := range d.enabledWorkers() {
		covered[strings.ToLower(d.cfg.Workers[id].Category)] = true
	}
	cats := make([]string, 0, len(d.cfg.Judge.Weights))
	for cat := range d.cfg.Judge.Weights {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		w := d.cfg.Judge.Weights[cat]
		field := "judge.weights." + cat
		if w.Relevance+w.Quality+w.Confidence+w.Freshness == 0 {
			d.addWarning(r, "judge", field, "all weights are zero; every candidate scores 0")
		}
		if !covered[strings.ToLower(cat)] {
			d.addWarning(r, "judge", field, "weights set for a category with no enabled worker")
		}
	}
}

// checkTempo flags pacing that outruns the processing budget.
func (d *Doctor) checkTempo(r *Result) {
	t := d.cfg.Tempo
	timeout := d.cfg.Processor.AgentTimeoutSeconds
	if t.Mode == "fixed_interval" && timeout > t.JunctionIntervalSeconds {
		msg := fmt.Sprintf("agent timeout %.2fs exceeds the %.2fs junction interval; junctions will overlap",
			timeout, t.JunctionIntervalSeconds)
		if d.cfg.Processor.MaxInFlight > 0 {
			msg += fmt.Sprintf(" and queue behind max_in_flight=%d", d.cfg.Processor.MaxInFlight)
		}
		d.addWarning(r, "tempo", "processor.agent_timeout_seconds", msg)
	}
	if t.Mode == "fixed_interval" && t.PreDispatchSeconds >= t.JunctionIntervalSeconds && t.PreDispatchSeconds > 0 {
		d.addWarning(r, "tempo", "tempo.pre_dispatch_seconds",
			"pre-dispatch lead is at least one interval; every junction dispatches immediately")
	}
}

func (d *Doctor) checkHTTPWorkers(r *Result) {
	endpoints := make(map[string]string)
	for _, id := range d.enabledWorkers() {
		w := d.cfg.Workers[id]
		if w.Kind != config.WorkerKindHTTP {
			continue
		}
		field := "workers." + id

		u, err := url.Parse(w.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			d.addError(r, "workers", field+".endpoint",
				fmt.Sprintf("endpoint %q is not an absolute http(s) URL", w.Endpoint))
			continue
		}
		if u.Scheme == "http" && w.APIKey != "" && !isLoopback(u.Hostname()) {
			d.addWarning(r, "workers", field+".endpoint", "api_key is sent over plain http")
		}
		if prev, dup := endpoints[w.Endpoint]; dup {
			d.addWarning(r, "workers", field+".endpoint",
				fmt.Sprintf("endpoint is shared with workers.%s; they share rate limits upstream", prev))
		}
		endpoints[w.Endpoint] = id

		if w.Breaker == nil {
			d.addWarning(r, "workers", field+".breaker",
				"no circuit breaker; a failing endpoint is called at every junction")
		}
	}
}

func (d *Doctor) checkSimulatedWorkers(r *Result) {
	for _, id := range d.enabledWorkers() {
		w := d.cfg.Workers[id]
		if w.Kind != config.WorkerKindSimulated {
			continue
		}
		if w.FailureRate >= 1 {
			d.addWarning(r, "workers", "workers."+id+".failure_rate", "worker never produces content")
		}
		latency := float64(w.LatencyMS+w.JitterMS) / 1000
		if latency > d.cfg.Processor.AgentTimeoutSeconds {
			d.addWarning(r, "workers", "workers."+id+".latency_ms",
				fmt.Sprintf("latency up to %.2fs exceeds the %.2fs agent timeout", latency, d.cfg.Processor.AgentTimeoutSeconds))
		}
	}
}

func (d *Doctor) checkAPIAuth(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	auth := d.cfg.API.Auth
	if auth.APIKey != "" && len(auth.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth", "both api_key and tokens configured; prefer tokens only")
	}
	if auth.APIKey != "" && len(auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; use tokens with scopes for watch-only clients")
	}
	if auth.APIKey != "" && len(auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "api_key is shorter than 16 characters")
	}
}

// checkWebhooks catches paths that differ only by a trailing slash.
func (d *Doctor) checkWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	if d.cfg.API.Enabled && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen", "webhooks and api cannot share a listen address")
	}
	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		normalized := strings.TrimSuffix(ep.Path, "/")
		if prev, exists := seen[normalized]; exists {
			d.addError(r, "webhooks", field+".path",
				fmt.Sprintf("webhook path %q conflicts with webhooks.endpoints[%d]", ep.Path, prev))
		}
		seen[normalized] = i
		if len(ep.Secret) < 16 {
			d.addWarning(r, "webhooks", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

func (d *Doctor) checkState(r *Result) {
	if d.cfg.State.Path == ":memory:" && (d.cfg.API.Enabled || d.cfg.Webhooks != nil) {
		d.addWarning(r, "state", "state.path", "in-memory state loses tour history on restart")
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars catches ${VAR} left in fields the loader does not police.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for _, id := range d.enabledWorkers() {
		w := d.cfg.Workers[id]
		for _, m := range envVarRe.FindAllStringSubmatch(w.Endpoint, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", "workers."+id+".endpoint",
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	for _, m := range envVarRe.FindAllStringSubmatch(d.cfg.State.Path, -1) {
		if os.Getenv(m[1]) == "" {
			d.addWarning(r, "env_vars", "state.path", fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
