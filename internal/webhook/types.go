package webhook

import (
	"context"

	"github.com/mattjoyce/tourguide/internal/orchestrator"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/tour"
)

// TourStarter launches a tour. *tour.Manager satisfies it.
type TourStarter interface {
	Start(ctx context.Context, r *route.Route, opts tour.StartOptions) (*orchestrator.Orchestrator, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single route webhook.
type EndpointConfig struct {
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64

	// Tempo overrides for tours started from this endpoint.
	Mode      string
	Interval  float64
	TimeScale float64
}

// TriggerResponse is the JSON response for an accepted route.
type TriggerResponse struct {
	RunID       string `json:"run_id"`
	Junctions   int    `json:"junctions"`
	Fingerprint string `json:"route_fingerprint"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Tourguide-Signature"
)
