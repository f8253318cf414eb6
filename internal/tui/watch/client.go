package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tourguide/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type tickMsg time.Time

type errMsg error

type streamClosedMsg struct{}
type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Source feeds events into the model.
type Source interface {
	// Connect returns a command that delivers events into ch until the
	// source ends. It yields sseDisconnectedMsg or streamClosedMsg when done.
	Connect(ch chan<- events.Event) tea.Cmd
	// Control applies pause, resume, trigger or stop to the tour.
	Control(action string) error
}

// HubSource watches a tour running in this process.
type HubSource struct {
	Hub     *events.Hub
	RunID   string
	Actions func(action string) error
}

func (s HubSource) Connect(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		sub, cancel := s.Hub.Subscribe(s.RunID)
		defer cancel()

		// Replay what happened before the view started.
		var lastID int64
		for _, e := range s.Hub.SnapshotSince(0, s.RunID) {
			ch <- e
			lastID = e.ID
			if e.Type == events.TourCompleted || e.Type == events.TourStopped {
				return streamClosedMsg{}
			}
		}
		for e := range sub {
			if e.ID <= lastID {
				continue
			}
			ch <- e
			if e.Type == events.TourCompleted || e.Type == events.TourStopped {
				return streamClosedMsg{}
			}
		}
		return streamClosedMsg{}
	}
}

func (s HubSource) Control(action string) error {
	if s.Actions == nil {
		return fmt.Errorf("controls are not available")
	}
	return s.Actions(action)
}

// APISource watches one tour on a running server through GET /events.
type APISource struct {
	BaseURL string
	APIKey  string
	RunID   string
	Client  *http.Client
}

func (s APISource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{}
}

// Connect subscribes to the SSE stream and feeds events into ch.
func (s APISource) Connect(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		u := s.BaseURL + "/events"
		if s.RunID != "" {
			u += "?run_id=" + url.QueryEscape(s.RunID)
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+s.APIKey)

		resp, err := s.client().Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events stream: %s", resp.Status))
		}

		if done := readSSE(resp.Body, s.RunID, ch); done {
			return streamClosedMsg{}
		}
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a run's event stream into ch. It reports true once the tour ended.
func readSSE(r io.Reader, runID string, ch chan<- events.Event) bool {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var cur events.Event
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if cur.Data != nil {
				cur.RunID = runID
				cur.At = time.Now()
				ch <- cur
				if cur.Type == events.TourCompleted || cur.Type == events.TourStopped {
					return true
				}
			}
			cur = events.Event{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	return false
}

func (s APISource) Control(action string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/tours/%s/%s", s.BaseURL, url.PathEscape(s.RunID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
