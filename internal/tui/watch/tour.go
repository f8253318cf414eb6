package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/report"
)

// JunctionState tracks one junction from dispatch to decision.
type JunctionState struct {
	ID           int
	Index        int
	Address      string
	Status       string // "collecting" or "done"
	Winner       *report.Pick
	Rationale    string
	Candidates   int
	TimedOut     []string
	DispatchedAt time.Time
	CompletedAt  time.Time
}

// TourState is everything the view knows about the watched tour.
type TourState struct {
	RunID       string
	Source      string
	Destination string
	Mode        string
	State       string // running, paused, completed, stopped
	Total       int
	Dispatched  int
	Completed   int
	Wins        map[string]int
	NoWinner    int
	Junctions   map[int]*JunctionState
	StartedAt   time.Time
	Final       *report.Summary
}

func newTourState(runID string) *TourState {
	return &TourState{
		RunID:     runID,
		State:     "waiting",
		Wins:      make(map[string]int),
		Junctions: make(map[int]*JunctionState),
	}
}

// Done reports whether the tour has finished.
func (t *TourState) Done() bool {
	return t.State == "completed" || t.State == "stopped"
}

// InFlight is the number of dispatched junctions still collecting.
func (t *TourState) InFlight() int {
	return t.Dispatched - t.Completed
}

// Percent is the share of junctions decided, 0..1.
func (t *TourState) Percent() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Completed) / float64(t.Total)
}

// Ordered returns junctions by route index.
func (t *TourState) Ordered() []*JunctionState {
	out := make([]*JunctionState, 0, len(t.Junctions))
	for _, j := range t.Junctions {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

type startedData struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Total       int    `json:"total"`
	Mode        string `json:"mode"`
}

// apply folds an event into the tour state. Events for other runs are ignored
// once a run id is known; the first tour.started fixes it when none was given.
func (t *TourState) apply(e events.Event) {
	if t.RunID == "" && e.Type == events.TourStarted {
		t.RunID = e.RunID
	}
	if e.RunID != t.RunID {
		return
	}

	switch e.Type {
	case events.TourStarted:
		var d startedData
		_ = json.Unmarshal(e.Data, &d)
		t.Source, t.Destination, t.Total, t.Mode = d.Source, d.Destination, d.Total, d.Mode
		t.State = "running"
		t.StartedAt = e.At

	case events.TourPaused:
		t.State = "paused"

	case events.TourResumed:
		t.State = "running"

	case events.JunctionDispatched:
		var d orchestrator.DispatchedPayload
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return
		}
		if d.Total > 0 {
			t.Total = d.Total
		}
		j := t.junction(d.JunctionID, d.Index, d.Address)
		j.Status = "collecting"
		j.DispatchedAt = e.At
		t.Dispatched++

	case events.JunctionCompleted:
		var d orchestrator.CompletedPayload
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return
		}
		j := t.junction(d.JunctionID, d.Index, d.Address)
		j.Status = "done"
		j.Winner = d.Winner
		j.Rationale = d.Rationale
		j.Candidates = d.Candidates
		j.TimedOut = d.TimedOut
		j.CompletedAt = e.At
		if d.Winner != nil {
			t.Wins[d.Winner.Category]++
		} else {
			t.NoWinner++
		}
		t.Completed = d.Completed

	case events.TourCompleted, events.TourStopped:
		var s report.Summary
		if err := json.Unmarshal(e.Data, &s); err == nil {
			t.Final = &s
		}
		if e.Type == events.TourCompleted {
			t.State = "completed"
		} else {
			t.State = "stopped"
		}
	}
}

func (t *TourState) junction(id, index int, address string) *JunctionState {
	j, ok := t.Junctions[index]
	if !ok {
		j = &JunctionState{ID: id, Index: index, Address: address}
		t.Junctions[index] = j
	}
	return j
}
