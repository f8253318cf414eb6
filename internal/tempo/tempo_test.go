package tempo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/log"
	"github.com/mattjoyce/tourguide/internal/route"
)

func testRoute(n int) *route.Route {
	r := &route.Route{Source: "A", Destination: "B"}
	for i := range n {
		r.Junctions = append(r.Junctions, route.Junction{
			ID:                        i + 1,
			Address:                   "street",
			CumulativeDurationSeconds: float64(i * 10),
		})
	}
	return r
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg, log.Discard())
	require.NoError(t, err)
	return c
}

func recv(t *testing.T, ch <-chan Event, within time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(within):
		t.Fatalf("no event within %s", within)
		return Event{}, false
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero interval", Config{Mode: ModeFixedInterval}, "junction_interval_seconds"},
		{"negative interval", Config{Mode: ModeFixedInterval, Interval: -time.Second}, "junction_interval_seconds"},
		{"default mode needs interval", Config{}, "junction_interval_seconds"},
		{"zero scale", Config{Mode: ModeDurationProportional}, "time_scale"},
		{"negative lead", Config{Mode: ModeDurationProportional, TimeScale: 1, PreDispatch: -time.Second}, "pre_dispatch_seconds"},
		{"unknown mode", Config{Mode: "random", Interval: time.Second}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, log.Discard())
			require.ErrorIs(t, err, errs.ErrConfiguration)
			var cfgErr *errs.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	_, err := New(Config{Mode: ModeManual}, log.Discard())
	assert.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Duration_Proportional")
	require.NoError(t, err)
	assert.Equal(t, ModeDurationProportional, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFixedInterval, m)

	_, err = ParseMode("gps")
	assert.Error(t, err)
}

func TestFixedIntervalDispatch(t *testing.T) {
	const interval = 30 * time.Millisecond
	c := newController(t, Config{Mode: ModeFixedInterval, Interval: interval})

	start := time.Now()
	ch, err := c.Start(context.Background(), testRoute(4))
	require.NoError(t, err)
	events := drain(ch)

	require.Len(t, events, 4)
	for k, ev := range events {
		assert.Equal(t, k, ev.Index)
		assert.Equal(t, 4, ev.Total)
		assert.Equal(t, k+1, ev.Junction.ID)
		assert.Equal(t, 3-k, ev.Remaining)
		assert.NotEmpty(t, ev.EventID)

		offset := ev.DispatchedAt.Sub(start)
		assert.GreaterOrEqual(t, offset, time.Duration(k)*interval-2*time.Millisecond, "event %d early", k)
		assert.Less(t, ev.Drift, 25*time.Millisecond, "event %d drifted", k)
	}
	assert.True(t, events[0].IsFirst)
	assert.Nil(t, events[0].Previous)
	assert.True(t, events[3].IsLast)
	assert.Nil(t, events[3].Next)
	assert.Equal(t, 2, events[2].Previous.ID)
	assert.Equal(t, 50.0, events[2].ProgressPercent)
	assert.Equal(t, 2*interval, events[1].EstimatedRemaining)

	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 4, c.Dispatched())
}

func TestDurationProportionalDispatch(t *testing.T) {
	// cumulative durations 0, 10, 20 seconds compressed to 0, 20, 40 ms
	c := newController(t, Config{Mode: ModeDurationProportional, TimeScale: 0.002})

	start := time.Now()
	ch, err := c.Start(context.Background(), testRoute(3))
	require.NoError(t, err)
	events := drain(ch)

	require.Len(t, events, 3)
	for k, ev := range events {
		want := time.Duration(k) * 20 * time.Millisecond
		assert.GreaterOrEqual(t, ev.DispatchedAt.Sub(start), want-2*time.Millisecond)
		planned := ev.ScheduledAt.Sub(start)
		assert.GreaterOrEqual(t, planned, want)
		assert.Less(t, planned, want+5*time.Millisecond)
	}
}

func TestDurationProportionalPreDispatchClampsAtStart(t *testing.T) {
	c := newController(t, Config{Mode: ModeDurationProportional, TimeScale: 0.002, PreDispatch: 30 * time.Millisecond})
	r := testRoute(3)
	assert.Equal(t, time.Duration(0), c.offset(r, 0))
	assert.Equal(t, time.Duration(0), c.offset(r, 1))
	assert.Equal(t, 10*time.Millisecond, c.offset(r, 2))
}

func TestManualDispatch(t *testing.T) {
	c := newController(t, Config{Mode: ModeManual})
	ch, err := c.Start(context.Background(), testRoute(2))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %d before trigger", ev.Index)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, c.Trigger())
	ev, ok := recv(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, ev.Index)

	require.NoError(t, c.Trigger())
	require.NoError(t, c.Trigger()) // beyond the route, ignored
	ev, ok = recv(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Index)

	_, ok = recv(t, ch, time.Second)
	assert.False(t, ok)
	assert.Equal(t, StateCompleted, c.State())
}

func TestTriggerRequiresManualMode(t *testing.T) {
	c := newController(t, Config{Interval: time.Second})
	assert.ErrorIs(t, c.Trigger(), ErrNotManual)
}

func TestPauseResumeReleasesOverdueJunction(t *testing.T) {
	const interval = 40 * time.Millisecond
	c := newController(t, Config{Mode: ModeFixedInterval, Interval: interval})
	ch, err := c.Start(context.Background(), testRoute(3))
	require.NoError(t, err)

	first, ok := recv(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, first.Index)

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.State())

	select {
	case ev := <-ch:
		t.Fatalf("event %d dispatched while paused", ev.Index)
	case <-time.After(100 * time.Millisecond):
	}

	resumedAt := time.Now()
	require.NoError(t, c.Resume())

	second, ok := recv(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, second.Index)
	assert.Less(t, second.DispatchedAt.Sub(resumedAt), 20*time.Millisecond, "overdue junction should fire on resume")

	third, ok := recv(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 2, third.Index)
	assert.GreaterOrEqual(t, third.DispatchedAt.Sub(resumedAt), interval, "later deadlines shift by the pause")
	assert.Less(t, third.Elapsed, third.DispatchedAt.Sub(first.DispatchedAt))

	_, ok = recv(t, ch, time.Second)
	assert.False(t, ok)
}

func TestPauseResumeInvalidTransitions(t *testing.T) {
	c := newController(t, Config{Interval: time.Hour})
	assert.ErrorIs(t, c.Pause(), ErrNotRunning)
	assert.ErrorIs(t, c.Resume(), ErrNotPaused)

	_, err := c.Start(context.Background(), testRoute(2))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Resume(), ErrNotPaused)
	require.NoError(t, c.Pause())
	assert.ErrorIs(t, c.Pause(), ErrNotRunning)
	c.Stop()
}

func TestStopEndsStreamEarly(t *testing.T) {
	c := newController(t, Config{Mode: ModeFixedInterval, Interval: 50 * time.Millisecond})
	ch, err := c.Start(context.Background(), testRoute(5))
	require.NoError(t, err)

	for range 2 {
		_, ok := recv(t, ch, time.Second)
		require.True(t, ok)
	}
	c.Stop()

	assert.Empty(t, drain(ch))
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 2, c.Dispatched())

	// terminal: cannot restart
	_, err = c.Start(context.Background(), testRoute(1))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	c.Stop()
}

func TestStopWhilePaused(t *testing.T) {
	c := newController(t, Config{Interval: 50 * time.Millisecond})
	ch, err := c.Start(context.Background(), testRoute(3))
	require.NoError(t, err)
	_, _ = recv(t, ch, time.Second)
	require.NoError(t, c.Pause())
	c.Stop()
	assert.Empty(t, drain(ch))
	assert.Equal(t, StateStopped, c.State())
}

func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newController(t, Config{Interval: time.Hour})
	ch, err := c.Start(ctx, testRoute(3))
	require.NoError(t, err)
	_, _ = recv(t, ch, time.Second)

	cancel()
	assert.Empty(t, drain(ch))
	assert.Equal(t, StateStopped, c.State())
}

func TestStartValidatesRoute(t *testing.T) {
	c := newController(t, Config{Interval: time.Second})
	_, err := c.Start(context.Background(), &route.Route{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, StateIdle, c.State())
}
