package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tourguide/internal/events"
)

// Options tunes the watch view.
type Options struct {
	// RunID narrows the view to one tour. Empty follows the first tour that starts.
	RunID string
	// ExitOnDone quits as soon as the tour completes or stops.
	ExitOnDone bool
}

type controlResultMsg struct {
	action string
	err    error
}

// Model is the BubbleTea model for a live tour.
type Model struct {
	source Source
	opts   Options

	width  int
	height int

	tour     *TourState
	eventLog []events.Event
	lastID   int64

	bar      progress.Model
	spin     spinner.Model
	table    table.Model
	activity Activity
	theme    Theme

	hubEvents chan events.Event
	connected bool
	ended     bool

	lastError string
	notice    string
}

// New creates a watch model reading from source.
func New(source Source, opts Options) *Model {
	return &Model{
		source:    source,
		opts:      opts,
		tour:      newTourState(opts.RunID),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spin:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		table:     newJunctionTable(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

// Tour returns the state accumulated so far.
func (m Model) Tour() *TourState {
	return m.tour
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.source.Connect(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.spin.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			return m, m.control("pause")
		case "r":
			return m, m.control("resume")
		case "n", " ":
			return m, m.control("trigger")
		case "s":
			return m, m.control("stop")
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, msg.Width-12)
		m.table.SetColumns(junctionColumns(msg.Width))
		m.table.SetHeight(max(5, msg.Height-24))

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		m.connected = true
		m.lastError = ""

		// Reconnects replay the server's buffer.
		if e.ID != 0 && e.ID <= m.lastID {
			return m, receiveNextEvent(m.hubEvents)
		}
		if e.ID != 0 {
			m.lastID = e.ID
		}

		m.tour.apply(e)
		if e.RunID != m.tour.RunID {
			return m, receiveNextEvent(m.hubEvents)
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(time.Now())
		m.table.SetRows(junctionRows(m.tour))

		if m.tour.Done() && m.opts.ExitOnDone {
			return m, tea.Quit
		}
		return m, receiveNextEvent(m.hubEvents)

	case streamClosedMsg:
		m.ended = true
		if m.opts.ExitOnDone {
			return m, tea.Quit
		}

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.source.Connect(m.hubEvents)

	case controlResultMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.notice = msg.action + " sent"
			m.lastError = ""
		}

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) control(action string) tea.Cmd {
	if m.tour.Done() {
		return nil
	}
	src := m.source
	return func() tea.Msg {
		return controlResultMsg{action: action, err: src.Control(action)}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Starting tour view..."
	}

	header := renderHeader(m.tour, m.bar, m.spin, m.activity, m.connected, m.theme, m.width, time.Now())
	junctions := renderJunctions(m.table, len(m.tour.Junctions) == 0, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, junctions, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Dim.Render(" "+m.notice))
	}

	helpText := " [q] Quit • [p] Pause • [r] Resume • [n] Next (manual) • [s] Stop • [↑/↓] Scroll"
	if m.tour.Done() {
		helpText = " Tour finished • [q] Quit • [↑/↓] Scroll"
	}
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(helpText)
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the full-screen view and blocks until the user quits.
func Run(source Source, opts Options) (*TourState, error) {
	final, err := tea.NewProgram(New(source, opts)).Run()
	if err != nil {
		return nil, err
	}
	if m, ok := final.(Model); ok {
		return m.tour, nil
	}
	if m, ok := final.(*Model); ok {
		return m.tour, nil
	}
	return nil, nil
}
