// Package processor races every capability worker against one junction and
// hands whatever arrived inside the collection window to the judge.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/metrics"
	"github.com/mattjoyce/tourguide/internal/route"
)

// Outcome is the result of processing one junction.
type Outcome struct {
	Junction    route.Junction      `json:"junction"`
	Index       int                 `json:"index"`
	Candidates  []capability.Result `json:"candidates"`
	Decision    judge.Decision      `json:"decision"`
	WindowStart time.Time           `json:"window_start"`
	WindowEnd   time.Time           `json:"window_end"`
	// TimedOut lists workers that had not answered when the window closed.
	TimedOut []string `json:"timed_out,omitempty"`
	// Faulted lists workers that panicked. They are absent from Candidates.
	Faulted []string `json:"faulted,omitempty"`
}

// Winner returns the winning result, or nil for a degraded junction.
func (o Outcome) Winner() *capability.Result {
	return o.Decision.Winner
}

// Window returns how long collection took.
func (o Outcome) Window() time.Duration {
	return o.WindowEnd.Sub(o.WindowStart)
}

type arrival struct {
	worker  capability.Worker
	result  capability.Result
	err     error
	fault   *panics.Recovered
	latency time.Duration
}

// Processor fans a junction out to the roster and collects within a fixed window.
// It is safe for concurrent use; each Process call owns its own channel and timer.
type Processor struct {
	roster  *capability.Roster
	judge   *judge.Judge
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Processor. timeout is the agent collection window and must be positive.
func New(roster *capability.Roster, j *judge.Judge, timeout time.Duration, logger *slog.Logger) (*Processor, error) {
	if roster == nil || roster.Len() == 0 {
		return nil, errs.Config("processor", "workers", "at least one worker is required")
	}
	if j == nil {
		return nil, errs.Config("processor", "judge", "judge is required")
	}
	if timeout <= 0 {
		return nil, errs.Config("processor", "agent_timeout_seconds", "must be greater than zero")
	}
	return &Processor{
		roster:  roster,
		judge:   j,
		timeout: timeout,
		logger:  logger.With("component", "processor"),
	}, nil
}

// Timeout returns the collection window.
func (p *Processor) Timeout() time.Duration {
	return p.timeout
}

// Workers returns the number of workers raced per junction.
func (p *Processor) Workers() int {
	return p.roster.Len()
}

// Process launches every worker on j, waits until all have answered or the
// window closes, and returns the judged outcome. It never returns an error:
// worker failures become zero-scored candidates and missing workers are listed
// as timed out. Workers still running when the window closes see their context
// cancelled; their late results are dropped.
func (p *Processor) Process(ctx context.Context, j route.Junction, index int) Outcome {
	workers := p.roster.Workers()
	n := len(workers)
	logger := p.logger.With("junction_id", j.ID, "index", index)

	// One slot per worker so no sender ever blocks, even after we stop reading.
	results := make(chan arrival, n)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	for _, w := range workers {
		go runWorker(wctx, w, j, results)
	}

	timeoutTimer := time.NewTimer(p.timeout)
	defer timeoutTimer.Stop()

	arrived := make(map[string]bool, n)
	candidates := make([]capability.Result, 0, n)
	var faulted []string

collect:
	for len(arrived) < n {
		select {
		case a := <-results:
			id := a.worker.ID()
			arrived[id] = true
			switch {
			case a.fault != nil:
				faulted = append(faulted, id)
				wf := &errs.WorkerFailure{WorkerID: id, JunctionID: j.ID, Kind: errs.FailureFault, Err: a.fault.AsError()}
				logger.Error("Worker panicked", "worker", id, "error", wf, "stack", string(a.fault.Stack))
				metrics.RecordWorkerResult(id, "fault", a.latency)
			case a.err != nil:
				logger.Warn("Worker failed", "worker", id, "error", a.err, "latency", a.latency)
				candidates = append(candidates, capability.Failure(a.worker, j.ID, a.err, a.latency))
				metrics.RecordWorkerResult(id, "error", a.latency)
			default:
				res := a.result
				res.WorkerID = id
				res.Category = a.worker.Category()
				res.JunctionID = j.ID
				res.OverallScore = 0
				if res.Latency == 0 {
					res.Latency = a.latency
				}
				candidates = append(candidates, res)
				outcome := "ok"
				if res.Failed() {
					outcome = "error"
				}
				metrics.RecordWorkerResult(id, outcome, a.latency)
			}
		case <-timeoutTimer.C:
			break collect
		case <-ctx.Done():
			logger.Warn("Junction processing cancelled", "error", ctx.Err())
			break collect
		}
	}
	end := time.Now()
	// Advisory: well-behaved workers stop, the rest write into the buffer unread.
	cancel()

	var timedOut []string
	for _, w := range workers {
		if !arrived[w.ID()] {
			timedOut = append(timedOut, w.ID())
			metrics.RecordWorkerResult(w.ID(), "timeout", 0)
		}
	}
	sort.Strings(timedOut)
	sort.Strings(faulted)

	decision := p.judge.Evaluate(j, candidates)
	for i := range candidates {
		candidates[i].OverallScore = p.judge.ScoreOf(candidates[i])
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].WorkerID < candidates[b].WorkerID })

	winner := ""
	if decision.Winner != nil {
		winner = string(decision.Winner.Category)
	}
	metrics.RecordJunction(end.Sub(start), winner)

	if len(timedOut) > 0 {
		logger.Warn("Collection window closed with missing workers", "timed_out", timedOut, "window", end.Sub(start))
	}
	logger.Info("Junction judged",
		"candidates", len(candidates),
		"winner", winner,
		"score", decision.WinningScore,
		"rationale", decision.Rationale,
	)

	return Outcome{
		Junction:    j,
		Index:       index,
		Candidates:  candidates,
		Decision:    decision,
		WindowStart: start,
		WindowEnd:   end,
		TimedOut:    timedOut,
		Faulted:     faulted,
	}
}

// runWorker runs one worker and reports exactly once, panic or not.
func runWorker(ctx context.Context, w capability.Worker, j route.Junction, results chan<- arrival) {
	var (
		pc  panics.Catcher
		res capability.Result
		err error
	)
	begin := time.Now()
	pc.Try(func() {
		res, err = w.Process(ctx, j)
	})
	a := arrival{worker: w, latency: time.Since(begin)}
	if r := pc.Recovered(); r != nil {
		a.fault = r
	} else {
		a.result, a.err = res, err
	}
	results <- a
}

// String is used in logs.
func (o Outcome) String() string {
	if w := o.Winner(); w != nil {
		return fmt.Sprintf("junction %d: %s (%s) %.1f", o.Junction.ID, w.WorkerID, w.Category, o.Decision.WinningScore)
	}
	return fmt.Sprintf("junction %d: no winner (%s)", o.Junction.ID, o.Decision.Rationale)
}
