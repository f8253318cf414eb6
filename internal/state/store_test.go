package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tours.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func sampleReport(runID string, status report.Status) *report.FinalReport {
	r := &route.Route{Source: "Haifa", Destination: "Acre", Junctions: []route.Junction{
		{ID: 1, Address: "Ben Gurion Ave"},
		{ID: 2, Address: "HaNamal St"},
		{ID: 3, Address: "Old City Gate"},
	}}
	agg := report.NewAggregator(runID, r)

	winner := capability.Result{WorkerID: "history", Category: capability.CategoryHistory, JunctionID: 1, Title: "Templer colony", URL: "https://en.wikipedia.org/wiki/German_Colony,_Haifa"}
	start := time.Now()
	agg.Add(processor.Outcome{
		Junction:    r.Junctions[0],
		Index:       0,
		Candidates:  []capability.Result{winner},
		Decision:    judge.Decision{JunctionID: 1, Winner: &winner, WinningScore: 81.25, Rationale: "history wins by default"},
		WindowStart: start,
		WindowEnd:   start.Add(120 * time.Millisecond),
	})
	agg.Add(processor.Outcome{
		Junction: r.Junctions[1],
		Index:    1,
		Decision: judge.Decision{JunctionID: 2, Rationale: judge.NoContestants, Degraded: true},
		TimedOut: []string{"music", "video"},
	})
	if status == report.StatusCompleted {
		agg.Add(processor.Outcome{
			Junction: r.Junctions[2],
			Index:    2,
			Decision: judge.Decision{JunctionID: 3, Rationale: judge.NoContestants, Degraded: true},
		})
	}
	return agg.Finalize(status, nil)
}

func TestStoreSaveAndGet(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	want := sampleReport("run-1", report.StatusCompleted)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.Wins, got.Wins)
	assert.Equal(t, 3, got.Processed())
	require.NotNil(t, got.JunctionResults[0].Winner())
	assert.Equal(t, "Templer colony", got.JunctionResults[0].Winner().Title)
	assert.Equal(t, []string{"music", "video"}, got.JunctionResults[1].TimedOut)
	assert.True(t, got.Completed)
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "nope"), ErrNotFound)
}

func TestStoreSaveReplacesRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleReport("run-2", report.StatusStopped)))
	require.NoError(t, s.Save(ctx, sampleReport("run-2", report.StatusCompleted)))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.StatusCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].CompletedJunctions)

	totals, err := s.CategoryTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"history": 1, "none": 2}, totals)
}

func TestStoreListNewestFirst(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	older := sampleReport("run-old", report.StatusStopped)
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, sampleReport("run-new", report.StatusCompleted)))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].RunID)
	assert.Equal(t, "run-old", runs[1].RunID)
	assert.False(t, runs[1].CompletedJunctions == runs[1].TotalJunctions)
	assert.Equal(t, 1, runs[0].Wins["history"])
	assert.True(t, runs[0].Success)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreDeleteCascades(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleReport("run-3", report.StatusCompleted)))
	require.NoError(t, s.Delete(ctx, "run-3"))

	totals, err := s.CategoryTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestStoreSizeLimit(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	s.maxReportBytes = 64

	err := s.Save(context.Background(), sampleReport("run-4", report.StatusCompleted))
	assert.ErrorContains(t, err, "exceeds max size")
}
