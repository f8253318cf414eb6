package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/orchestrator"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 8 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JunctionCompleted, events.TourCompleted:
		typeStyle = theme.StatusOK
	case events.TourStopped:
		typeStyle = theme.StatusFailed
	case events.JunctionDispatched, events.TourStarted:
		typeStyle = theme.StatusRunning
	case events.TourPaused, events.TourResumed:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func describeEvent(e events.Event) string {
	switch e.Type {
	case events.JunctionDispatched:
		var d orchestrator.DispatchedPayload
		if json.Unmarshal(e.Data, &d) == nil {
			return fmt.Sprintf("#%d %s (%.0f%%)", d.Index+1, d.Address, d.ProgressPercent)
		}
	case events.JunctionCompleted:
		var d orchestrator.CompletedPayload
		if json.Unmarshal(e.Data, &d) == nil {
			if d.Winner == nil {
				return fmt.Sprintf("#%d no winner", d.Index+1)
			}
			return fmt.Sprintf("#%d %s: %s", d.Index+1, d.Winner.Category, d.Winner.Title)
		}
	}

	raw := string(e.Data)
	if raw == "null" {
		return ""
	}
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
