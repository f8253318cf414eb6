// Package capability defines the content-discovery workers raced at each junction.
package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/route"
)

//go:generate mockgen -destination=mocks/mock_worker.go -package=mocks github.com/mattjoyce/tourguide/internal/capability Worker

// Category is the kind of content a worker discovers.
type Category string

const (
	CategoryVideo   Category = "video"
	CategoryMusic   Category = "music"
	CategoryHistory Category = "history"
)

// Categories lists every category in the default tie-break order.
var Categories = []Category{CategoryVideo, CategoryMusic, CategoryHistory}

// ParseCategory maps a config string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Result is a single worker's proposal for one junction.
// Relevance, Quality and Confidence are on a 0..100 scale.
type Result struct {
	WorkerID     string        `json:"worker_id"`
	Category     Category      `json:"category"`
	JunctionID   int           `json:"junction_id"`
	Title        string        `json:"title,omitempty"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url,omitempty"`
	Relevance    float64       `json:"relevance"`
	Quality      float64       `json:"quality"`
	Confidence   float64       `json:"confidence"`
	OverallScore float64       `json:"overall_score"`
	Error        string        `json:"error,omitempty"`
	Latency      time.Duration `json:"latency_ns"`
}

// Failed reports whether the worker returned an error instead of content.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Failure builds the zero-scored candidate recorded for a worker that returned an error.
func Failure(w Worker, junctionID int, err error, latency time.Duration) Result {
	wf := &errs.WorkerFailure{WorkerID: w.ID(), JunctionID: junctionID, Kind: errs.FailureError, Err: err}
	return Result{
		WorkerID:   w.ID(),
		Category:   w.Category(),
		JunctionID: junctionID,
		Error:      wf.Error(),
		Latency:    latency,
	}
}

// Worker discovers content of one category for a junction.
// Process must return promptly once ctx is done.
type Worker interface {
	ID() string
	Category() Category
	Process(ctx context.Context, j route.Junction) (Result, error)
}

// Roster is a fixed, ordered set of workers with unique ids.
type Roster struct {
	workers []Worker
}

// NewRoster validates the worker set. At least one worker is required and ids must be unique.
func NewRoster(workers ...Worker) (*Roster, error) {
	if len(workers) == 0 {
		return nil, errs.Config("roster", "workers", "at least one worker is required")
	}
	seen := make(map[string]bool, len(workers))
	for i, w := range workers {
		if w == nil {
			return nil, errs.Config("roster", fmt.Sprintf("workers[%d]", i), "worker is nil")
		}
		if w.ID() == "" {
			return nil, errs.Config("roster", fmt.Sprintf("workers[%d]", i), "worker id is empty")
		}
		if seen[w.ID()] {
			return nil, errs.Config("roster", "workers", fmt.Sprintf("duplicate worker id %q", w.ID()))
		}
		if _, err := ParseCategory(string(w.Category())); err != nil {
			return nil, errs.Config("roster", w.ID(), err.Error())
		}
		seen[w.ID()] = true
	}
	out := make([]Worker, len(workers))
	copy(out, workers)
	return &Roster{workers: out}, nil
}

// Workers returns the roster in registration order.
func (r *Roster) Workers() []Worker {
	out := make([]Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Len returns the number of workers.
func (r *Roster) Len() int {
	return len(r.workers)
}

// IDs returns the sorted worker ids.
func (r *Roster) IDs() []string {
	ids := make([]string, 0, len(r.workers))
	for _, w := range r.workers {
		ids = append(ids, w.ID())
	}
	sort.Strings(ids)
	return ids
}
