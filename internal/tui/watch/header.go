package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

func renderHeader(t *TourState, bar progress.Model, spin spinner.Model, activity Activity, connected bool, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := " TOURGUIDE WATCH"
	if t.RunID != "" {
		titleText += " " + theme.Dim.Render(shortID(t.RunID))
	}
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	routeLine := " " + theme.Dim.Render("waiting for tour to start...")
	if t.Source != "" || t.Destination != "" {
		routeLine = fmt.Sprintf(" %s → %s  %s", t.Source, t.Destination, theme.Dim.Render(t.Mode))
	}

	statusLine := fmt.Sprintf(" %s  %d/%d decided", renderState(t.State, connected, theme), t.Completed, t.Total)
	if n := t.InFlight(); n > 0 {
		statusLine += fmt.Sprintf("  %s %d in flight", spin.View(), n)
	}
	if !t.StartedAt.IsZero() && !t.Done() {
		statusLine += "  ⏱ " + formatDuration(now.Sub(t.StartedAt))
	}

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(activity.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		routeLine,
		statusLine,
		" "+bar.ViewAs(t.Percent()),
		renderWins(t, theme),
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func renderState(state string, connected bool, theme Theme) string {
	if !connected {
		return theme.StatusFailed.Render("CONNECTING")
	}
	switch state {
	case "running":
		return theme.StatusRunning.Render("RUNNING")
	case "paused":
		return theme.StatusPaused.Render("PAUSED")
	case "completed":
		return theme.StatusOK.Render("COMPLETED")
	case "stopped":
		return theme.StatusFailed.Render("STOPPED")
	}
	return theme.Dim.Render(strings.ToUpper(state))
}

func renderWins(t *TourState, theme Theme) string {
	parts := make([]string, 0, 4)
	for _, cat := range []string{"video", "music", "history"} {
		parts = append(parts, theme.Category(cat).Render(fmt.Sprintf("%s %d", cat, t.Wins[cat])))
	}
	parts = append(parts, theme.Dim.Render(fmt.Sprintf("none %d", t.NoWinner)))
	return " Wins: " + strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
