package api

import (
	"encoding/json"

	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/state"
)

// StartTourRequest is the JSON body for POST /tours. Route is a route document
// in the same shape as a route file.
type StartTourRequest struct {
	Route           json.RawMessage `json:"route" validate:"required"`
	Mode            string          `json:"mode,omitempty" validate:"omitempty,oneof=fixed_interval duration_proportional manual"`
	IntervalSeconds float64         `json:"junction_interval_seconds,omitempty" validate:"gte=0"`
	TimeScale       float64         `json:"time_scale,omitempty" validate:"gte=0"`
	MaxInFlight     int             `json:"max_in_flight,omitempty" validate:"gte=0,lte=1024"`
}

// TourStartedResponse is returned by POST /tours without wait.
type TourStartedResponse struct {
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	TotalJunctions int    `json:"total_junctions"`
	Mode           string `json:"mode"`
}

// TourResponse is returned by GET /tours/{run_id} and POST /tours?wait=true.
// Progress is set while the tour runs, Summary once it has finished.
type TourResponse struct {
	RunID    string                 `json:"run_id"`
	Status   string                 `json:"status"`
	Progress *orchestrator.Progress `json:"progress,omitempty"`
	Summary  *report.Summary        `json:"summary,omitempty"`
}

// TourListResponse is returned by GET /tours.
type TourListResponse struct {
	Active []orchestrator.Progress `json:"active"`
	Recent []state.RunRecord       `json:"recent"`
}

// ControlResponse is returned by POST /tours/{run_id}/{action}.
type ControlResponse struct {
	RunID  string `json:"run_id"`
	Action string `json:"action"`
	State  string `json:"state"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActiveTours   int      `json:"active_tours"`
	WorkersLoaded int      `json:"workers_loaded"`
	BreakersOpen  []string `json:"breakers_open"`
}
