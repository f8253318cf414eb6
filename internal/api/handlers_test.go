package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/capability"
	"github.com/mattjoyce/tourguide/internal/capability/simulated"
	"github.com/mattjoyce/tourguide/internal/events"
	"github.com/mattjoyce/tourguide/internal/judge"
	"github.com/mattjoyce/tourguide/internal/log"
	"github.com/mattjoyce/tourguide/internal/processor"
	"github.com/mattjoyce/tourguide/internal/tempo"
	"github.com/mattjoyce/tourguide/internal/tour"
)

const testKey = "test-key-123"

const routeJSON = `{
  "source": "Rothschild Blvd",
  "destination": "Neve Tzedek",
  "junctions": [
    {"id": 1, "address": "Rothschild Blvd & Herzl St", "street_name": "Herzl St", "turn": "LEFT"},
    {"id": 2, "address": "Herzl St & Shabazi St", "street_name": "Shabazi St", "turn": "right"}
  ]
}`

type fakeBreaker struct{ id, state string }

func (f fakeBreaker) ID() string           { return f.id }
func (f fakeBreaker) BreakerState() string { return f.state }

func newTestServer(t *testing.T, cfg Config, breakers ...BreakerReporter) (*Server, *tour.Manager) {
	t.Helper()
	roster, err := capability.NewRoster(simulated.Defaults(5)...)
	require.NoError(t, err)
	p, err := processor.New(roster, judge.Default(), time.Second, log.Discard())
	require.NoError(t, err)

	hub := events.NewHub(256)
	m := tour.NewManager(tour.Config{
		Tempo:              tempo.Config{Mode: tempo.ModeFixedInterval, Interval: 5 * time.Millisecond},
		MaxConcurrentTours: 2,
	}, p, hub, nil, log.Discard())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	if cfg.APIKey == "" {
		cfg.APIKey = testKey
	}
	return New(cfg, m, hub, roster.Len(), breakers, log.Discard()), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, Config{}, fakeBreaker{"video-api", "open"}, fakeBreaker{"music-api", "closed"})
	rr := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 3, resp.WorkersLoaded)
	assert.Equal(t, []string{"video-api"}, resp.BreakersOpen)
	assert.Zero(t, resp.ActiveTours)
}

func TestStartTourWait(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/tours?wait=true", `{"route":`+routeJSON+`}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[TourResponse](t, rr)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "Rothschild Blvd", resp.Summary.Source)
	assert.Len(t, resp.Summary.Junctions, 2)

	sum := resp.Summary.NoWinner
	for _, n := range resp.Summary.CategoryWins {
		sum += n
	}
	assert.Equal(t, 2, sum)

	// Finished tours stay reachable by id.
	got := do(t, h, http.MethodGet, "/tours/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "completed", decode[TourResponse](t, got).Status)

	full := do(t, h, http.MethodGet, "/tours/"+resp.RunID+"?full=true", "")
	require.Equal(t, http.StatusOK, full.Code)
	assert.Contains(t, full.Body.String(), `"junction_results"`)
}

func TestStartTourAsyncAndControl(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/tours", `{"route":`+routeJSON+`,"mode":"manual"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	started := decode[TourStartedResponse](t, rr)
	assert.Equal(t, "running", started.Status)
	assert.Equal(t, "manual", started.Mode)
	assert.Equal(t, 2, started.TotalJunctions)

	live := do(t, h, http.MethodGet, "/tours/"+started.RunID, "")
	require.Equal(t, http.StatusOK, live.Code)
	progress := decode[TourResponse](t, live)
	require.NotNil(t, progress.Progress)
	assert.Equal(t, 0, progress.Progress.Dispatched)

	list := decode[TourListResponse](t, do(t, h, http.MethodGet, "/tours", ""))
	require.Len(t, list.Active, 1)
	assert.Equal(t, started.RunID, list.Active[0].RunID)

	resume := do(t, h, http.MethodPost, "/tours/"+started.RunID+"/resume", "")
	assert.Equal(t, http.StatusConflict, resume.Code)

	pause := do(t, h, http.MethodPost, "/tours/"+started.RunID+"/pause", "")
	require.Equal(t, http.StatusOK, pause.Code)
	assert.Equal(t, "paused", decode[ControlResponse](t, pause).State)

	bad := do(t, h, http.MethodPost, "/tours/"+started.RunID+"/rewind", "")
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	stop := do(t, h, http.MethodPost, "/tours/"+started.RunID+"/stop", "")
	require.Equal(t, http.StatusOK, stop.Code)
	assert.Equal(t, "stopped", decode[ControlResponse](t, stop).State)

	require.Eventually(t, func() bool {
		rr := do(t, h, http.MethodGet, "/tours/"+started.RunID, "")
		return rr.Code == http.StatusOK && decode[TourResponse](t, rr).Status == "stopped"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartTourValidation(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "not json", body: `{`, want: "invalid JSON body"},
		{name: "unknown field", body: `{"route":` + routeJSON + `,"speed":3}`, want: "invalid JSON body"},
		{name: "missing route", body: `{"mode":"manual"}`, want: "route: required"},
		{name: "bad mode", body: `{"route":` + routeJSON + `,"mode":"warp"}`, want: "mode: must satisfy oneof"},
		{name: "negative interval", body: `{"route":` + routeJSON + `,"junction_interval_seconds":-1}`, want: "junction_interval_seconds"},
		{name: "empty route", body: `{"route":{"source":"a","destination":"b","junctions":[]}}`, want: "no junctions"},
		{name: "ids out of order", body: `{"route":{"junctions":[{"id":2},{"id":1}]}}`, want: "strictly increasing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/tours", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decode[ErrorResponse](t, rr).Error, tt.want)
		})
	}
}

func TestStartTourBusy(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	for range 2 {
		rr := do(t, h, http.MethodPost, "/tours", `{"route":`+routeJSON+`,"mode":"manual"}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/tours", `{"route":`+routeJSON+`,"mode":"manual"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestGetTourNotFound(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/tours/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/tours/missing/stop", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/tours?limit=zero", "").Code)
}

func TestOpenAPIDoc(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rr := do(t, s.Handler(), http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)

	doc := decode[map[string]any](t, rr)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/tours", "/tours/{run_id}", "/tours/{run_id}/{action}", "/events"} {
		assert.Contains(t, paths, p)
	}
}

func TestEventsStream(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// Start a manual tour so the stream has a run to follow.
	rr := do(t, s.Handler(), http.MethodPost, "/tours", `{"route":`+routeJSON+`,"mode":"manual"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	runID := decode[TourStartedResponse](t, rr).RunID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?run_id="+runID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		for _, action := range []string{"trigger", "trigger"} {
			do(t, s.Handler(), http.MethodPost, "/tours/"+runID+"/"+action, "")
		}
	}()

	seen := map[string]int{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if typ, ok := strings.CutPrefix(line, "event: "); ok {
			seen[typ]++
			if typ == events.TourCompleted {
				break
			}
		}
	}
	assert.Equal(t, 1, seen[events.TourStarted])
	assert.Equal(t, 2, seen[events.JunctionDispatched])
	assert.Equal(t, 2, seen[events.JunctionCompleted])
	assert.Equal(t, 1, seen[events.TourCompleted])
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
