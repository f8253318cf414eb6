package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/tourguide/internal/capability"
)

// Pick is the winning content for one junction.
type Pick struct {
	Category    string  `json:"category"`
	WorkerID    string  `json:"worker_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Score       float64 `json:"score"`
}

// JunctionEntry is one row of the summary. Winner is nil when nobody won.
type JunctionEntry struct {
	JunctionID int    `json:"junction_id"`
	Index      int    `json:"index"`
	Address    string `json:"address"`
	Winner     *Pick  `json:"winner"`
	Rationale  string `json:"rationale"`
}

// Summary is the plain, presentation-neutral record of a tour.
type Summary struct {
	RunID          string          `json:"run_id"`
	Source         string          `json:"source"`
	Destination    string          `json:"destination"`
	Status         Status          `json:"status"`
	TotalJunctions int             `json:"total_junctions"`
	Junctions      []JunctionEntry `json:"junctions"`
	CategoryWins   map[string]int  `json:"category_wins"`
	NoWinner       int             `json:"no_winner"`
	TotalSeconds   float64         `json:"total_seconds"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

// Summary flattens the report.
func (r *FinalReport) Summary() Summary {
	s := Summary{
		RunID:          r.RunID,
		Source:         r.Source,
		Destination:    r.Destination,
		Status:         r.Status,
		TotalJunctions: r.TotalJunctions,
		Junctions:      make([]JunctionEntry, 0, len(r.JunctionResults)),
		CategoryWins:   make(map[string]int, len(r.Wins)),
		NoWinner:       r.NoWinner,
		TotalSeconds:   r.WallClock.Seconds(),
		Success:        r.Success,
		Error:          r.Error,
	}
	for cat, n := range r.Wins {
		s.CategoryWins[string(cat)] = n
	}
	for _, o := range r.JunctionResults {
		entry := JunctionEntry{
			JunctionID: o.Junction.ID,
			Index:      o.Index,
			Address:    o.Junction.Address,
			Rationale:  o.Decision.Rationale,
		}
		if w := o.Winner(); w != nil {
			entry.Winner = &Pick{
				Category:    string(w.Category),
				WorkerID:    w.WorkerID,
				Title:       w.Title,
				Description: w.Description,
				URL:         w.URL,
				Score:       o.Decision.WinningScore,
			}
		}
		s.Junctions = append(s.Junctions, entry)
	}
	return s
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// RenderText writes a human-readable summary of r.
func RenderText(w io.Writer, r *FinalReport) error {
	s := r.Summary()

	var b strings.Builder
	fmt.Fprintln(&b, titleStyle.Render(fmt.Sprintf("Tour %s → %s", s.Source, s.Destination)))
	fmt.Fprintf(&b, "%s\n\n", dimStyle.Render(fmt.Sprintf("run %s · %s · %d/%d junctions · %.1fs",
		s.RunID, s.Status, len(s.Junctions), s.TotalJunctions, s.TotalSeconds)))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "JUNCTION", "WINNER", "SCORE", "TITLE")
	for _, j := range s.Junctions {
		if j.Winner == nil {
			t.Row(fmt.Sprint(j.JunctionID), j.Address, "-", "-", j.Rationale)
			continue
		}
		t.Row(fmt.Sprint(j.JunctionID), j.Address, j.Winner.Category, fmt.Sprintf("%.1f", j.Winner.Score), j.Winner.Title)
	}
	fmt.Fprintln(&b, t.String())

	fmt.Fprintln(&b)
	parts := make([]string, 0, len(capability.Categories)+1)
	for _, c := range capability.Categories {
		parts = append(parts, fmt.Sprintf("%s %d", c, s.CategoryWins[string(c)]))
	}
	parts = append(parts, fmt.Sprintf("none %d", s.NoWinner))
	fmt.Fprintf(&b, "Wins: %s\n", strings.Join(parts, ", "))
	if s.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
