package tour

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/capability/simulated"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/log"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/storage"
	"github.com/mattjoyce/tourguide/internal/tempo"
)

func testRoute(n int) *route.Route {
	r := &route.Route{Source: "Dizengoff Square", Destination: "Carmel Market"}
	for i := range n {
		r.Junctions = append(r.Junctions, route.Junction{ID: i + 1, Address: "Dizengoff St " + string(rune('1'+i))})
	}
	return r
}

func newManager(t *testing.T, cfg Config, history History) *Manager {
	t.Helper()
	roster, err := capability.NewRoster(simulated.Defaults(3)...)
	require.NoError(t, err)
	p, err := processor.New(roster, judge.Default(), time.Second, log.Discard())
	require.NoError(t, err)
	m := NewManager(cfg, p, nil, history, log.Discard())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func fastTempo() tempo.Config {
	return tempo.Config{Mode: tempo.ModeFixedInterval, Interval: 5 * time.Millisecond}
}

func openHistory(t *testing.T) *state.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tours.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return state.NewStore(db)
}

func waitReport(t *testing.T, m *Manager, runID string) *report.FinalReport {
	t.Helper()
	var rep *report.FinalReport
	require.Eventually(t, func() bool {
		if _, live := m.Live(runID); live {
			return false
		}
		var err error
		rep, err = m.Report(context.Background(), runID)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return rep
}

func TestManagerRunsAndPersists(t *testing.T) {
	history := openHistory(t)
	m := newManager(t, Config{Tempo: fastTempo()}, history)

	o, err := m.Start(context.Background(), testRoute(4), StartOptions{})
	require.NoError(t, err)

	rep := waitReport(t, m, o.RunID())
	assert.Equal(t, report.StatusCompleted, rep.Status)
	assert.Equal(t, 4, rep.Processed())

	runs, err := m.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, o.RunID(), runs[0].RunID)

	stored, err := history.Get(context.Background(), o.RunID())
	require.NoError(t, err)
	assert.Equal(t, rep.Fingerprint, stored.Fingerprint)
}

func TestManagerRejectsWhenBusy(t *testing.T) {
	m := newManager(t, Config{
		Tempo:              tempo.Config{Mode: tempo.ModeManual},
		MaxConcurrentTours: 1,
	}, nil)

	first, err := m.Start(context.Background(), testRoute(2), StartOptions{})
	require.NoError(t, err)

	_, err = m.Start(context.Background(), testRoute(2), StartOptions{})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, m.Control(first.RunID(), "stop"))
	waitReport(t, m, first.RunID())

	second, err := m.Start(context.Background(), testRoute(1), StartOptions{Mode: tempo.ModeFixedInterval, Interval: 0.005})
	require.NoError(t, err)
	rep := waitReport(t, m, second.RunID())
	assert.True(t, rep.Completed)
}

func TestManagerControl(t *testing.T) {
	m := newManager(t, Config{Tempo: tempo.Config{Mode: tempo.ModeManual}}, nil)

	o, err := m.Start(context.Background(), testRoute(2), StartOptions{})
	require.NoError(t, err)

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, o.RunID(), active[0].RunID)
	assert.Equal(t, 2, active[0].Total)

	require.NoError(t, m.Control(o.RunID(), "trigger"))
	require.NoError(t, m.Control(o.RunID(), "pause"))
	assert.Error(t, m.Control(o.RunID(), "pause"))
	require.NoError(t, m.Control(o.RunID(), "resume"))
	assert.ErrorContains(t, m.Control(o.RunID(), "rewind"), "unknown action")
	require.NoError(t, m.Control(o.RunID(), "trigger"))

	rep := waitReport(t, m, o.RunID())
	assert.True(t, rep.Completed)

	assert.ErrorIs(t, m.Control(o.RunID(), "stop"), ErrNotFound)
	assert.Empty(t, m.Active())
}

func TestManagerReportNotFound(t *testing.T) {
	m := newManager(t, Config{Tempo: fastTempo()}, openHistory(t))
	_, err := m.Report(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	bare := newManager(t, Config{Tempo: fastTempo()}, nil)
	_, err = bare.Report(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	runs, err := bare.History(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManagerShutdownStopsLiveTours(t *testing.T) {
	history := openHistory(t)
	m := newManager(t, Config{Tempo: tempo.Config{Mode: tempo.ModeManual}}, history)

	o, err := m.Start(context.Background(), testRoute(3), StartOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	stored, err := history.Get(context.Background(), o.RunID())
	require.NoError(t, err)
	assert.Equal(t, report.StatusStopped, stored.Status)
	assert.Zero(t, stored.Processed())

	_, err = m.Start(context.Background(), testRoute(1), StartOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStartOptionsOverrideDefaults(t *testing.T) {
	m := newManager(t, Config{Tempo: fastTempo()}, nil)
	_, err := m.Start(context.Background(), testRoute(1), StartOptions{Mode: "warp"})
	assert.ErrorContains(t, err, "unknown dispatch mode")

	// The failed start must not leak its slot.
	for range 4 {
		o, err := m.Start(context.Background(), testRoute(1), StartOptions{})
		require.NoError(t, err)
		waitReport(t, m, o.RunID())
	}
}
