// Package orchestrator runs a tour: it consumes the tempo event stream,
// processes every released junction concurrently and aggregates the outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/metrics"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/tempo"
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

// Config configures one tour run.
type Config struct {
	Tempo tempo.Config
	// MaxInFlight caps concurrently processed junctions. Zero means no cap.
	MaxInFlight int
	// RunID identifies the run; generated when empty.
	RunID string
}

// Progress is a live snapshot of a run.
type Progress struct {
	RunID           string                      `json:"run_id"`
	State           tempo.State                 `json:"state"`
	Total           int                         `json:"total"`
	Dispatched      int                         `json:"dispatched"`
	Completed       int                         `json:"completed"`
	InFlight        int                         `json:"in_flight"`
	Wins            map[capability.Category]int `json:"wins"`
	NoWinner        int                         `json:"no_winner"`
	PercentComplete float64                     `json:"percent_complete"`
}

// Orchestrator drives a single tour. It is single-use.
type Orchestrator struct {
	cfg       Config
	runID     string
	processor *processor.Processor
	tempo     *tempo.Controller
	hub       *events.Hub
	logger    *slog.Logger
	sem       *semaphore.Weighted

	mu             sync.Mutex
	started        bool
	route          *route.Route
	agg            *report.Aggregator
	onJunction     []func(processor.Outcome)
	onRoute        []func(*report.FinalReport)
	cancelDispatch context.CancelFunc

	// cbMu serializes Add+callback so callbacks observe completion order.
	cbMu      sync.Mutex
	routeOnce sync.Once

	dispatched atomic.Int64
	inFlight   atomic.Int64
	stopped    atomic.Bool

	wg    sync.WaitGroup
	done  chan struct{}
	final *report.FinalReport
}

// New builds an orchestrator. hub may be nil.
func New(cfg Config, p *processor.Processor, hub *events.Hub, logger *slog.Logger) (*Orchestrator, error) {
	if p == nil {
		return nil, errs.Config("orchestrator", "processor", "processor is required")
	}
	if cfg.MaxInFlight < 0 {
		return nil, errs.Config("orchestrator", "max_in_flight", "must not be negative")
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("component", "orchestrator", "run_id", runID)

	tc, err := tempo.New(cfg.Tempo, logger)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:       cfg,
		runID:     runID,
		processor: p,
		tempo:     tc,
		hub:       hub,
		logger:    logger,
		done:      make(chan struct{}),
	}
	if cfg.MaxInFlight > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return o, nil
}

// RunID returns the identifier of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Mode returns the dispatch mode of the run.
func (o *Orchestrator) Mode() tempo.Mode {
	return o.tempo.Mode()
}

// OnJunctionComplete registers fn to be called once per outcome, in completion order.
// Callbacks are never called concurrently.
func (o *Orchestrator) OnJunctionComplete(fn func(processor.Outcome)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onJunction = append(o.onJunction, fn)
}

// OnRouteComplete registers fn to be called exactly once, after every junction has an outcome.
// It is not called for a stopped run.
func (o *Orchestrator) OnRouteComplete(fn func(*report.FinalReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onRoute = append(o.onRoute, fn)
}

// Start begins the tour. With blocking set it waits for the run to finish and
// returns the final report; otherwise it returns immediately with a nil report
// and Wait can be used later.
func (o *Orchestrator) Start(ctx context.Context, r *route.Route, blocking bool) (*report.FinalReport, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	o.started = true
	o.route = r
	o.agg = report.NewAggregator(o.runID, r)
	dctx, cancel := context.WithCancel(ctx)
	o.cancelDispatch = cancel
	o.mu.Unlock()

	stream, err := o.tempo.Start(dctx, r)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start tempo: %w", err)
	}

	metrics.ToursActive.Inc()
	o.logger.Info("Tour started",
		"source", r.Source,
		"destination", r.Destination,
		"junctions", r.JunctionCount(),
		"mode", o.tempo.Mode(),
		"max_in_flight", o.cfg.MaxInFlight,
	)
	o.hub.Publish(o.runID, events.TourStarted, map[string]any{
		"source":      r.Source,
		"destination": r.Destination,
		"total":       r.JunctionCount(),
		"mode":        o.tempo.Mode(),
	})

	go o.dispatchLoop(dctx, ctx, stream)

	if !blocking {
		return nil, nil
	}
	return o.Wait(ctx)
}

// Wait blocks until the run has finished and returns the final report.
func (o *Orchestrator) Wait(ctx context.Context) (*report.FinalReport, error) {
	select {
	case <-o.done:
		return o.final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the run has finished and the final report is available.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Report returns the final report, or nil while the run is in progress.
func (o *Orchestrator) Report() *report.FinalReport {
	select {
	case <-o.done:
		return o.final
	default:
		return nil
	}
}

// dispatchLoop spawns one processor per released junction without waiting
// for earlier junctions. dctx bounds dispatch only; in-flight junctions are
// detached from it so stop never aborts them.
func (o *Orchestrator) dispatchLoop(dctx, parent context.Context, stream <-chan tempo.Event) {
	for ev := range stream {
		if o.stopped.Load() {
			break
		}
		if o.sem != nil {
			if err := o.sem.Acquire(dctx, 1); err != nil {
				break
			}
		}
		// Stop may have landed while waiting for a slot.
		if o.stopped.Load() {
			if o.sem != nil {
				o.sem.Release(1)
			}
			break
		}

		o.dispatched.Add(1)
		o.inFlight.Add(1)
		metrics.JunctionsInFlight.Inc()
		o.hub.Publish(o.runID, events.JunctionDispatched, DispatchedPayload{
			JunctionID:      ev.Junction.ID,
			Index:           ev.Index,
			Total:           ev.Total,
			Address:         ev.Junction.Address,
			ProgressPercent: ev.ProgressPercent,
			Drift:           ev.Drift,
		})

		o.wg.Add(1)
		go o.runJunction(context.WithoutCancel(parent), ev)
	}
	// Drain so the tempo goroutine never blocks; its buffer already holds everything.
	for range stream {
	}

	o.wg.Wait()
	o.finish(parent)
}

func (o *Orchestrator) runJunction(ctx context.Context, ev tempo.Event) {
	defer o.wg.Done()
	if o.sem != nil {
		defer o.sem.Release(1)
	}

	outcome := o.processor.Process(ctx, ev.Junction, ev.Index)

	o.cbMu.Lock()
	completed := o.agg.Add(outcome)
	o.inFlight.Add(-1)
	metrics.JunctionsInFlight.Dec()
	o.hub.Publish(o.runID, events.JunctionCompleted, completedPayload(outcome, completed, ev.Total))
	o.mu.Lock()
	callbacks := append([]func(processor.Outcome){}, o.onJunction...)
	o.mu.Unlock()
	for _, fn := range callbacks {
		o.safeCall("junction", func() { fn(outcome) })
	}
	o.cbMu.Unlock()
}

func (o *Orchestrator) finish(parent context.Context) {
	total := o.route.JunctionCount()
	completed := o.agg.Completed()

	status := report.StatusCompleted
	var runErr error
	if completed < total {
		status = report.StatusStopped
		if err := parent.Err(); err != nil {
			runErr = err
		}
	}
	final := o.agg.Finalize(status, runErr)
	o.final = final

	if status == report.StatusCompleted {
		o.routeOnce.Do(func() {
			o.mu.Lock()
			callbacks := append([]func(*report.FinalReport){}, o.onRoute...)
			o.mu.Unlock()
			o.cbMu.Lock()
			for _, fn := range callbacks {
				o.safeCall("route", func() { fn(final) })
			}
			o.cbMu.Unlock()
		})
		o.hub.Publish(o.runID, events.TourCompleted, final.Summary())
	} else {
		o.hub.Publish(o.runID, events.TourStopped, final.Summary())
	}

	o.mu.Lock()
	if o.cancelDispatch != nil {
		o.cancelDispatch()
	}
	o.mu.Unlock()

	metrics.ToursActive.Dec()
	metrics.RecordTour(string(status))
	o.logger.Info("Tour finished",
		"status", status,
		"completed", completed,
		"total", total,
		"wins", final.Wins,
		"no_winner", final.NoWinner,
		"wall_clock", final.WallClock.Round(time.Millisecond),
	)
	close(o.done)
}

// safeCall runs a user callback, logging instead of propagating a panic.
func (o *Orchestrator) safeCall(kind string, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		o.logger.Error("Callback panicked", "kind", kind, "panic", r.Value, "stack", string(r.Stack))
	}
}

// Pause suspends future dispatch. In-flight junctions continue.
func (o *Orchestrator) Pause() error {
	if err := o.tempo.Pause(); err != nil {
		return err
	}
	o.hub.Publish(o.runID, events.TourPaused, map[string]int{"dispatched": int(o.dispatched.Load())})
	return nil
}

// Resume continues dispatch after Pause.
func (o *Orchestrator) Resume() error {
	if err := o.tempo.Resume(); err != nil {
		return err
	}
	o.hub.Publish(o.runID, events.TourResumed, map[string]int{"dispatched": int(o.dispatched.Load())})
	return nil
}

// Trigger releases the next junction in manual mode.
func (o *Orchestrator) Trigger() error {
	return o.tempo.Trigger()
}

// Stop cancels the remaining schedule. Junctions already dispatched run to
// their own completion; use Wait for the partial report.
func (o *Orchestrator) Stop() {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.logger.Info("Stopping tour", "dispatched", o.dispatched.Load())
	o.tempo.Stop()
	o.mu.Lock()
	if o.cancelDispatch != nil {
		o.cancelDispatch()
	}
	o.mu.Unlock()
}

// Progress returns live counters for the run.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	agg, r := o.agg, o.route
	o.mu.Unlock()

	p := Progress{
		RunID:      o.runID,
		State:      o.tempo.State(),
		Dispatched: int(o.dispatched.Load()),
		InFlight:   int(o.inFlight.Load()),
		Wins:       map[capability.Category]int{},
	}
	if r == nil {
		return p
	}
	p.Total = r.JunctionCount()
	p.Completed = agg.Completed()
	p.Wins = agg.Wins()
	p.NoWinner = agg.NoWinner()
	p.PercentComplete = float64(p.Completed) / float64(p.Total) * 100
	return p
}
