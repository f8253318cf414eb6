// Package tempo releases a route's junctions as a timed event stream.
package tempo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/route"
)

// Mode selects how dispatch times are computed.
type Mode string

const (
	// ModeFixedInterval releases junction k at start + k*interval.
	ModeFixedInterval Mode = "fixed_interval"
	// ModeDurationProportional releases junction k at start + cumulative_duration_k*scale.
	ModeDurationProportional Mode = "duration_proportional"
	// ModeManual releases a junction on each Trigger call.
	ModeManual Mode = "manual"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFixedInterval, ModeDurationProportional, ModeManual:
		return m, nil
	case "":
		return ModeFixedInterval, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// State is the controller lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped
}

var (
	ErrAlreadyStarted = errors.New("tempo controller already started")
	ErrNotRunning     = errors.New("tempo controller is not running")
	ErrNotPaused      = errors.New("tempo controller is not paused")
	ErrNotManual      = errors.New("trigger requires manual mode")
)

// Config configures a Controller.
type Config struct {
	Mode Mode
	// Interval is the gap between junctions in fixed_interval mode.
	Interval time.Duration
	// TimeScale compresses real route time in duration_proportional mode; 0.1 plays ten times faster.
	TimeScale float64
	// PreDispatch releases each junction this much earlier than its proportional time.
	PreDispatch time.Duration
}

// Event announces that a junction is due for processing.
type Event struct {
	EventID            string          `json:"event_id"`
	Junction           route.Junction  `json:"junction"`
	Index              int             `json:"index"`
	Total              int             `json:"total"`
	ProgressPercent    float64         `json:"progress_percent"`
	IsFirst            bool            `json:"is_first"`
	IsLast             bool            `json:"is_last"`
	Remaining          int             `json:"remaining"`
	Previous           *route.Junction `json:"previous,omitempty"`
	Next               *route.Junction `json:"next,omitempty"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	DispatchedAt       time.Time       `json:"dispatched_at"`
	Drift              time.Duration   `json:"drift_ns"`
	Elapsed            time.Duration   `json:"elapsed_ns"`
	EstimatedRemaining time.Duration   `json:"estimated_remaining_ns"`
}

// Controller paces junction dispatch. It is single-use: once Completed or Stopped it cannot restart.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	route       *route.Route
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	dispatched  int
	forceNext   bool
	forcedDue   time.Time
	triggers    int

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New validates cfg and returns an idle controller.
func New(cfg Config, logger *slog.Logger) (*Controller, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeFixedInterval
	}
	switch cfg.Mode {
	case ModeFixedInterval:
		if cfg.Interval <= 0 {
			return nil, errs.Config("tempo", "junction_interval_seconds", "must be greater than zero")
		}
	case ModeDurationProportional:
		if cfg.TimeScale <= 0 {
			return nil, errs.Config("tempo", "time_scale", "must be greater than zero")
		}
		if cfg.PreDispatch < 0 {
			return nil, errs.Config("tempo", "pre_dispatch_seconds", "must not be negative")
		}
	case ModeManual:
	default:
		return nil, errs.Config("tempo", "mode", fmt.Sprintf("unknown dispatch mode %q", cfg.Mode))
	}

	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "tempo"),
		state:  StateIdle,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Mode returns the configured dispatch mode.
func (c *Controller) Mode() Mode {
	return c.cfg.Mode
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatched returns how many junctions have been released so far.
func (c *Controller) Dispatched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatched
}

// Start begins pacing r. The returned channel is buffered to the junction count,
// receives one event per junction and is closed on completion or stop.
// Dispatch never waits on the consumer.
func (c *Controller) Start(ctx context.Context, r *route.Route) (<-chan Event, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrAlreadyStarted, c.state)
	}
	c.state = StateRunning
	c.route = r
	c.startedAt = time.Now()
	c.mu.Unlock()

	out := make(chan Event, r.JunctionCount())
	c.logger.Info("Starting tempo controller", "mode", c.cfg.Mode, "junctions", r.JunctionCount())
	go c.run(ctx, r, out)
	return out, nil
}

// Done is closed once the dispatch loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) run(ctx context.Context, r *route.Route, out chan<- Event) {
	defer close(c.done)
	defer close(out)

	total := r.JunctionCount()
	for k := 0; k < total; k++ {
		scheduled, ok := c.waitFor(ctx, k)
		if !ok {
			c.logger.Info("Tempo controller stopped", "dispatched", k, "total", total)
			return
		}
		ev := c.buildEvent(r, k, scheduled)

		c.mu.Lock()
		c.dispatched = k + 1
		c.mu.Unlock()

		out <- ev
		c.logger.Debug("Dispatched junction", "junction_id", ev.Junction.ID, "index", k, "drift", ev.Drift)
	}

	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = StateCompleted
	}
	c.mu.Unlock()
	c.logger.Info("All junctions dispatched", "total", total)
}

// offset is the planned delay of junction k from start, ignoring pauses.
func (c *Controller) offset(r *route.Route, k int) time.Duration {
	switch c.cfg.Mode {
	case ModeFixedInterval:
		return time.Duration(k) * c.cfg.Interval
	case ModeDurationProportional:
		d := time.Duration(math.Round(r.Junctions[k].CumulativeDurationSeconds*c.cfg.TimeScale*float64(time.Second))) - c.cfg.PreDispatch
		return max(d, 0)
	default:
		return 0
	}
}

// dueLocked is the wall-clock deadline for junction k. c.mu must be held.
func (c *Controller) dueLocked(k int) time.Time {
	return c.startedAt.Add(c.offset(c.route, k) + c.pausedTotal)
}

// waitFor blocks until junction k is due. It returns false if the controller
// was stopped or ctx ended first.
func (c *Controller) waitFor(ctx context.Context, k int) (time.Time, bool) {
	for {
		c.mu.Lock()
		switch {
		case c.state == StateStopped:
			c.mu.Unlock()
			return time.Time{}, false
		case c.state == StatePaused:
			// wait for resume
		case c.cfg.Mode == ModeManual:
			if c.triggers > 0 {
				c.triggers--
				c.mu.Unlock()
				return time.Now(), true
			}
		case c.forceNext:
			c.forceNext = false
			due := c.forcedDue
			c.mu.Unlock()
			return due, true
		default:
			due := c.dueLocked(k)
			wait := time.Until(due)
			c.mu.Unlock()
			if wait <= 0 {
				return due, true
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-c.wake:
				timer.Stop()
			case <-c.stopCh:
				timer.Stop()
				return time.Time{}, false
			case <-ctx.Done():
				timer.Stop()
				c.markStopped()
				return time.Time{}, false
			}
			continue
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.stopCh:
			return time.Time{}, false
		case <-ctx.Done():
			c.markStopped()
			return time.Time{}, false
		}
	}
}

func (c *Controller) buildEvent(r *route.Route, k int, scheduled time.Time) Event {
	now := time.Now()
	total := r.JunctionCount()

	c.mu.Lock()
	elapsed := now.Sub(c.startedAt) - c.pausedTotal
	c.mu.Unlock()

	ev := Event{
		EventID:         uuid.NewString(),
		Junction:        r.Junctions[k],
		Index:           k,
		Total:           total,
		ProgressPercent: float64(k) / float64(total) * 100,
		IsFirst:         k == 0,
		IsLast:          k == total-1,
		Remaining:       total - k - 1,
		ScheduledAt:     scheduled,
		DispatchedAt:    now,
		Drift:           now.Sub(scheduled),
		Elapsed:         elapsed,
	}
	if k > 0 {
		prev := r.Junctions[k-1]
		ev.Previous = &prev
	}
	if k < total-1 {
		next := r.Junctions[k+1]
		ev.Next = &next
		if c.cfg.Mode != ModeManual {
			ev.EstimatedRemaining = c.offset(r, total-1) - c.offset(r, k)
		}
	}
	return ev
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pause suspends the dispatch clock. Junctions already dispatched are unaffected.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, c.state)
	}
	c.state = StatePaused
	c.pausedAt = time.Now()
	c.signal()
	c.logger.Info("Tempo paused", "dispatched", c.dispatched)
	return nil
}

// Resume restarts the clock. Later deadlines shift by the time spent paused,
// and a junction that came due during the pause is released immediately.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return fmt.Errorf("%w (state %s)", ErrNotPaused, c.state)
	}
	now := time.Now()
	// Compare against the deadline before this pause is added to the total.
	if c.cfg.Mode != ModeManual && c.dispatched < c.route.JunctionCount() {
		if due := c.dueLocked(c.dispatched); !due.After(now) {
			c.forceNext = true
			c.forcedDue = due
		}
	}
	c.pausedTotal += now.Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	c.state = StateRunning
	c.signal()
	c.logger.Info("Tempo resumed", "paused_total", c.pausedTotal, "release_pending", c.forceNext)
	return nil
}

// Trigger releases the next junction in manual mode. Triggers sent while paused
// are held until Resume.
func (c *Controller) Trigger() error {
	if c.cfg.Mode != ModeManual {
		return ErrNotManual
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning && c.state != StatePaused {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, c.state)
	}
	if c.dispatched+c.triggers >= c.route.JunctionCount() {
		return nil
	}
	c.triggers++
	c.signal()
	return nil
}

func (c *Controller) markStopped() {
	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = StateStopped
	}
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Stop halts dispatch and closes the event stream. Junctions not yet released
// are never released. Stop is a no-op on a completed controller.
func (c *Controller) Stop() {
	c.mu.Lock()
	state := c.state
	if state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	if state != StateIdle {
		<-c.done
	}
	c.logger.Info("Tempo controller stop requested", "previous_state", state)
}
