package watch

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

func newJunctionTable() table.Model {
	t := table.New(
		table.WithColumns(junctionColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// junctionColumns gives the address and pick columns whatever width is left.
func junctionColumns(width int) []table.Column {
	flex := width - 4 - 12 - 9 - 8 - 10
	if flex < 20 {
		flex = 20
	}
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: "Address", Width: flex / 2},
		{Title: "Winner", Width: 12},
		{Title: "Score", Width: 9},
		{Title: "Cands", Width: 8},
		{Title: "Pick", Width: flex - flex/2},
	}
}

func junctionRows(t *TourState) []table.Row {
	rows := make([]table.Row, 0, len(t.Junctions))
	for _, j := range t.Ordered() {
		winner, score, pick := "", "", ""
		switch {
		case j.Status == "collecting":
			winner = "…"
		case j.Winner != nil:
			winner = j.Winner.Category
			score = fmt.Sprintf("%.1f", j.Winner.Score)
			pick = j.Winner.Title
		default:
			winner = "none"
			pick = j.Rationale
		}
		cands := ""
		if j.Status == "done" {
			cands = fmt.Sprintf("%d", j.Candidates)
			if n := len(j.TimedOut); n > 0 {
				cands += fmt.Sprintf(" -%d", n)
			}
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", j.Index+1),
			j.Address,
			winner,
			score,
			cands,
			pick,
		})
	}
	return rows
}

func renderJunctions(tbl table.Model, empty bool, theme Theme, width int) string {
	innerWidth := width - 4
	body := tbl.View()
	if empty {
		body = theme.Dim.Render("  No junctions dispatched yet...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("JUNCTIONS"),
		body,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
