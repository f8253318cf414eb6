// Package report accumulates junction outcomes into the final tour report.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/route"
)

// Status is the final state of a tour.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// FinalReport is the record of a whole tour. JunctionResults are ordered by
// junction index regardless of completion order.
type FinalReport struct {
	RunID           string                      `json:"run_id"`
	Source          string                      `json:"source"`
	Destination     string                      `json:"destination"`
	Fingerprint     string                      `json:"route_fingerprint"`
	TotalJunctions  int                         `json:"total_junctions"`
	JunctionResults []processor.Outcome         `json:"junction_results"`
	Wins            map[capability.Category]int `json:"wins"`
	NoWinner        int                         `json:"no_winner"`
	StartedAt       time.Time                   `json:"started_at"`
	EndedAt         time.Time                   `json:"ended_at"`
	WallClock       time.Duration               `json:"wall_clock_ns"`
	Status          Status                      `json:"status"`
	// Success is false only when the tour itself could not proceed.
	Success bool `json:"success"`
	// Completed is true once every junction has an outcome.
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// Processed returns the number of junctions with an outcome.
func (r *FinalReport) Processed() int {
	return len(r.JunctionResults)
}

// Aggregator collects outcomes that arrive in any order from concurrent junctions.
type Aggregator struct {
	mu        sync.Mutex
	runID     string
	route     *route.Route
	startedAt time.Time
	outcomes  []processor.Outcome
	wins      map[capability.Category]int
	noWinner  int
}

// NewAggregator starts an aggregation for r.
func NewAggregator(runID string, r *route.Route) *Aggregator {
	wins := make(map[capability.Category]int, len(capability.Categories))
	for _, c := range capability.Categories {
		wins[c] = 0
	}
	return &Aggregator{
		runID:     runID,
		route:     r,
		startedAt: time.Now(),
		outcomes:  make([]processor.Outcome, 0, r.JunctionCount()),
		wins:      wins,
	}
}

// Add records an outcome and returns how many junctions are now complete.
func (a *Aggregator) Add(o processor.Outcome) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
	if w := o.Winner(); w != nil {
		a.wins[w.Category]++
	} else {
		a.noWinner++
	}
	return len(a.outcomes)
}

// Completed returns how many outcomes have been recorded.
func (a *Aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// Wins returns a copy of the per-category win tally.
func (a *Aggregator) Wins() map[capability.Category]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyWins(a.wins)
}

// NoWinner returns how many junctions ended without a winner.
func (a *Aggregator) NoWinner() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.noWinner
}

// Finalize builds the report from everything recorded so far.
// status describes how the tour ended; err is recorded when non-nil.
func (a *Aggregator) Finalize(status Status, err error) *FinalReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make([]processor.Outcome, len(a.outcomes))
	copy(results, a.outcomes)
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	end := time.Now()
	r := &FinalReport{
		RunID:           a.runID,
		Source:          a.route.Source,
		Destination:     a.route.Destination,
		Fingerprint:     a.route.Fingerprint(),
		TotalJunctions:  a.route.JunctionCount(),
		JunctionResults: results,
		Wins:            copyWins(a.wins),
		NoWinner:        a.noWinner,
		StartedAt:       a.startedAt,
		EndedAt:         end,
		WallClock:       end.Sub(a.startedAt),
		Status:          status,
		Success:         status != StatusFailed,
		Completed:       len(results) == a.route.JunctionCount(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func copyWins(in map[capability.Category]int) map[capability.Category]int {
	out := make(map[capability.Category]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
