package orchestrator

import (
	"time"

	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/report"
)

// DispatchedPayload is the data of a junction.dispatched event.
type DispatchedPayload struct {
	JunctionID      int           `json:"junction_id"`
	Index           int           `json:"index"`
	Total           int           `json:"total"`
	Address         string        `json:"address"`
	ProgressPercent float64       `json:"progress_percent"`
	Drift           time.Duration `json:"drift_ns"`
}

// CompletedPayload is the data of a junction.completed event.
type CompletedPayload struct {
	JunctionID int          `json:"junction_id"`
	Index      int          `json:"index"`
	Address    string       `json:"address"`
	Winner     *report.Pick `json:"winner"`
	Rationale  string       `json:"rationale"`
	Candidates int          `json:"candidates"`
	TimedOut   []string     `json:"timed_out,omitempty"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
}

func completedPayload(o processor.Outcome, completed, total int) CompletedPayload {
	p := CompletedPayload{
		JunctionID: o.Junction.ID,
		Index:      o.Index,
		Address:    o.Junction.Address,
		Rationale:  o.Decision.Rationale,
		Candidates: len(o.Candidates),
		TimedOut:   o.TimedOut,
		Completed:  completed,
		Total:      total,
	}
	if w := o.Winner(); w != nil {
		p.Winner = &report.Pick{
			Category:    string(w.Category),
			WorkerID:    w.WorkerID,
			Title:       w.Title,
			Description: w.Description,
			URL:         w.URL,
			Score:       o.Decision.WinningScore,
		}
	}
	return p
}
