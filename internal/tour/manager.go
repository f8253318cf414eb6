// Package tour runs and tracks tours for the API server and the CLI.
package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/tempo"
)

var (
	ErrBusy     = errors.New("too many concurrent tours")
	ErrNotFound = errors.New("tour not found")
	ErrClosed   = errors.New("tour manager is shut down")
)

// History persists finished tours.
type History interface {
	Save(ctx context.Context, r *report.FinalReport) error
	Get(ctx context.Context, runID string) (*report.FinalReport, error)
	List(ctx context.Context, limit int) ([]state.RunRecord, error)
}

// Config holds defaults applied to every tour.
type Config struct {
	Tempo       tempo.Config
	MaxInFlight int
	// MaxConcurrentTours caps live tours. Zero means 4.
	MaxConcurrentTours int
}

// StartOptions override the defaults for a single tour.
type StartOptions struct {
	Mode        tempo.Mode
	Interval    float64
	TimeScale   float64
	MaxInFlight int
}

// Manager starts tours and keeps track of them until they are persisted.
type Manager struct {
	cfg     Config
	proc    *processor.Processor
	hub     *events.Hub
	history History
	logger  *slog.Logger
	slots   *semaphore.Weighted

	mu     sync.Mutex
	live   map[string]*orchestrator.Orchestrator
	recent map[string]*report.FinalReport
	order  []string
	closed bool
	wg     sync.WaitGroup
}

const maxRecent = 64

// NewManager builds a Manager. history may be nil, in which case only the
// most recent reports are kept in memory.
func NewManager(cfg Config, proc *processor.Processor, hub *events.Hub, history History, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentTours <= 0 {
		cfg.MaxConcurrentTours = 4
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Manager{
		cfg:     cfg,
		proc:    proc,
		hub:     hub,
		history: history,
		logger:  logger.With("component", "tour"),
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrentTours)),
		live:    make(map[string]*orchestrator.Orchestrator),
		recent:  make(map[string]*report.FinalReport),
	}
}

// Hub returns the event hub tours publish into.
func (m *Manager) Hub() *events.Hub {
	return m.hub
}

// Start launches a tour of r without blocking. The tour outlives ctx's
// cancellation; use Stop or Shutdown to end it.
func (m *Manager) Start(ctx context.Context, r *route.Route, opts StartOptions) (*orchestrator.Orchestrator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !m.slots.TryAcquire(1) {
		return nil, fmt.Errorf("%w (limit %d)", ErrBusy, m.cfg.MaxConcurrentTours)
	}

	cfg := orchestrator.Config{Tempo: m.cfg.Tempo, MaxInFlight: m.cfg.MaxInFlight}
	if err := applyOptions(&cfg, opts); err != nil {
		m.slots.Release(1)
		return nil, err
	}

	o, err := orchestrator.New(cfg, m.proc, m.hub, m.logger)
	if err != nil {
		m.slots.Release(1)
		return nil, err
	}

	if _, err := o.Start(context.WithoutCancel(ctx), r, false); err != nil {
		m.slots.Release(1)
		return nil, err
	}

	m.mu.Lock()
	m.live[o.RunID()] = o
	m.wg.Add(1)
	if m.closed {
		// Shutdown raced this start and will wait for it.
		o.Stop()
	}
	m.mu.Unlock()

	go m.track(o)
	return o, nil
}

func applyOptions(cfg *orchestrator.Config, opts StartOptions) error {
	if opts.Mode != "" {
		mode, err := tempo.ParseMode(string(opts.Mode))
		if err != nil {
			return err
		}
		cfg.Tempo.Mode = mode
	}
	if opts.Interval > 0 {
		cfg.Tempo.Interval = secondsToDuration(opts.Interval)
	}
	if opts.TimeScale > 0 {
		cfg.Tempo.TimeScale = opts.TimeScale
	}
	if opts.MaxInFlight > 0 {
		cfg.MaxInFlight = opts.MaxInFlight
	}
	return nil
}

// track persists a tour once it finishes and frees its slot.
func (m *Manager) track(o *orchestrator.Orchestrator) {
	defer m.wg.Done()
	defer m.slots.Release(1)

	<-o.Done()
	rep := o.Report()

	if m.history != nil {
		if err := m.history.Save(context.Background(), rep); err != nil {
			m.logger.Error("Failed to save tour", "run_id", rep.RunID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.live, rep.RunID)
	m.remember(rep)
	m.mu.Unlock()
}

// remember keeps a bounded set of finished reports. Caller holds mu.
func (m *Manager) remember(rep *report.FinalReport) {
	if _, ok := m.recent[rep.RunID]; !ok {
		m.order = append(m.order, rep.RunID)
	}
	m.recent[rep.RunID] = rep
	for len(m.order) > maxRecent {
		delete(m.recent, m.order[0])
		m.order = m.order[1:]
	}
}

// Live returns the orchestrator of a running tour.
func (m *Manager) Live(runID string) (*orchestrator.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.live[runID]
	return o, ok
}

// Active returns progress for every running tour, ordered by run id.
func (m *Manager) Active() []orchestrator.Progress {
	m.mu.Lock()
	runs := make([]*orchestrator.Orchestrator, 0, len(m.live))
	for _, o := range m.live {
		runs = append(runs, o)
	}
	m.mu.Unlock()

	out := make([]orchestrator.Progress, 0, len(runs))
	for _, o := range runs {
		out = append(out, o.Progress())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// Report returns the final report of a finished tour.
func (m *Manager) Report(ctx context.Context, runID string) (*report.FinalReport, error) {
	m.mu.Lock()
	if o, ok := m.live[runID]; ok {
		m.mu.Unlock()
		if rep := o.Report(); rep != nil {
			return rep, nil
		}
		return nil, fmt.Errorf("tour %s is still running", runID)
	}
	rep, ok := m.recent[runID]
	m.mu.Unlock()
	if ok {
		return rep, nil
	}

	if m.history == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	rep, err := m.history.Get(ctx, runID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rep, err
}

// History lists persisted tours, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]state.RunRecord, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.List(ctx, limit)
}

// Control applies a lifecycle action to a running tour.
func (m *Manager) Control(runID, action string) error {
	o, ok := m.Live(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	switch action {
	case "pause":
		return o.Pause()
	case "resume":
		return o.Resume()
	case "trigger":
		return o.Trigger()
	case "stop":
		o.Stop()
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// Shutdown stops every live tour and waits until they are persisted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	runs := make([]*orchestrator.Orchestrator, 0, len(m.live))
	for _, o := range m.live {
		runs = append(runs, o)
	}
	m.mu.Unlock()

	for _, o := range runs {
		o.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
