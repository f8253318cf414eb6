// Package state persists finished tours.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/tourguide/internal/report"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("tour run not found")

// DefaultMaxReportBytes bounds the stored report document.
const DefaultMaxReportBytes = 4 << 20

// Fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is the listing view of a stored tour.
type RunRecord struct {
	RunID              string         `json:"run_id"`
	Source             string         `json:"source"`
	Destination        string         `json:"destination"`
	Fingerprint        string         `json:"route_fingerprint"`
	Status             report.Status  `json:"status"`
	TotalJunctions     int            `json:"total_junctions"`
	CompletedJunctions int            `json:"completed_junctions"`
	Wins               map[string]int `json:"wins"`
	NoWinner           int            `json:"no_winner"`
	Success            bool           `json:"success"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            time.Time      `json:"ended_at"`
	WallClock          time.Duration  `json:"wall_clock_ns"`
	Error              string         `json:"error,omitempty"`
}

type Store struct {
	db             *sql.DB
	maxReportBytes int
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:             db,
		maxReportBytes: DefaultMaxReportBytes,
	}
}

// Save writes r and its junction outcomes. Saving the same run again replaces it.
func (s *Store) Save(ctx context.Context, r *report.FinalReport) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("report has no run id")
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if len(doc) > s.maxReportBytes {
		return fmt.Errorf("report exceeds max size (%d bytes)", s.maxReportBytes)
	}
	wins, err := json.Marshal(r.Summary().CategoryWins)
	if err != nil {
		return fmt.Errorf("marshal wins: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO tour_run(id, source, destination, route_fingerprint, status, total_junctions,
  completed_junctions, no_winner, wins, success, started_at, ended_at, wall_clock_ms, error, report)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  completed_junctions = excluded.completed_junctions,
  no_winner = excluded.no_winner,
  wins = excluded.wins,
  success = excluded.success,
  ended_at = excluded.ended_at,
  wall_clock_ms = excluded.wall_clock_ms,
  error = excluded.error,
  report = excluded.report;
`,
		r.RunID, r.Source, r.Destination, r.Fingerprint, string(r.Status), r.TotalJunctions,
		r.Processed(), r.NoWinner, string(wins), r.Success,
		formatTime(r.StartedAt), formatTime(r.EndedAt), r.WallClock.Milliseconds(), nullString(r.Error), string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert tour run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM junction_outcome WHERE run_id = ?;", r.RunID); err != nil {
		return fmt.Errorf("clear junction outcomes: %w", err)
	}
	for _, o := range r.JunctionResults {
		var workerID, category sql.NullString
		if w := o.Winner(); w != nil {
			workerID = sql.NullString{String: w.WorkerID, Valid: true}
			category = sql.NullString{String: string(w.Category), Valid: true}
		}
		timedOut, err := json.Marshal(nonNil(o.TimedOut))
		if err != nil {
			return fmt.Errorf("marshal timed_out: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO junction_outcome(run_id, junction_index, junction_id, address, winner_worker, winner_category,
  winning_score, rationale, degraded, candidates, timed_out, window_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			r.RunID, o.Index, o.Junction.ID, o.Junction.Address, workerID, category,
			o.Decision.WinningScore, o.Decision.Rationale, o.Decision.Degraded, len(o.Candidates),
			string(timedOut), o.Window().Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert junction %d: %w", o.Junction.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get returns the full stored report for runID.
func (s *Store) Get(ctx context.Context, runID string) (*report.FinalReport, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT report FROM tour_run WHERE id = ?;", runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read tour run: %w", err)
	}

	var r report.FinalReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("stored report is invalid JSON for run=%q: %w", runID, err)
	}
	return &r, nil
}

// List returns the most recent runs first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, destination, route_fingerprint, status, total_junctions, completed_junctions,
  no_winner, wins, success, started_at, ended_at, wall_clock_ms, COALESCE(error, '')
FROM tour_run
ORDER BY started_at DESC, id
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tour runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec            RunRecord
			status, wins   string
			started, ended string
			wallMS         int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Source, &rec.Destination, &rec.Fingerprint, &status,
			&rec.TotalJunctions, &rec.CompletedJunctions, &rec.NoWinner, &wins, &rec.Success,
			&started, &ended, &wallMS, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan tour run: %w", err)
		}
		rec.Status = report.Status(status)
		rec.WallClock = time.Duration(wallMS) * time.Millisecond
		if err := json.Unmarshal([]byte(wins), &rec.Wins); err != nil {
			return nil, fmt.Errorf("decode wins for run=%q: %w", rec.RunID, err)
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = parseTime(ended); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CategoryTotals sums junction wins per category across every stored run.
// Junctions without a winner are counted under "none".
func (s *Store) CategoryTotals(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT COALESCE(winner_category, 'none'), COUNT(*)
FROM junction_outcome
GROUP BY 1;
`)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// Delete removes a run and its outcomes.
func (s *Store) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tour_run WHERE id = ?;", runID)
	if err != nil {
		return fmt.Errorf("delete tour run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
