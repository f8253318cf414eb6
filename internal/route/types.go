// Package route defines the immutable route model consumed by a tour.
package route

import (
	"fmt"
	"strings"
)

// TurnDirection is the maneuver taken at a junction.
type TurnDirection string

const (
	TurnLeft        TurnDirection = "left"
	TurnRight       TurnDirection = "right"
	TurnStraight    TurnDirection = "straight"
	TurnSlightLeft  TurnDirection = "slight_left"
	TurnSlightRight TurnDirection = "slight_right"
	TurnSharpLeft   TurnDirection = "sharp_left"
	TurnSharpRight  TurnDirection = "sharp_right"
	TurnUTurn       TurnDirection = "u_turn"
	TurnMerge       TurnDirection = "merge"
	TurnRamp        TurnDirection = "ramp"
	TurnFork        TurnDirection = "fork"
	TurnRoundabout  TurnDirection = "roundabout"
	TurnDestination TurnDirection = "destination"
	TurnUnknown     TurnDirection = ""
)

var knownTurns = map[TurnDirection]bool{
	TurnLeft: true, TurnRight: true, TurnStraight: true,
	TurnSlightLeft: true, TurnSlightRight: true,
	TurnSharpLeft: true, TurnSharpRight: true,
	TurnUTurn: true, TurnMerge: true, TurnRamp: true, TurnFork: true,
	TurnRoundabout: true, TurnDestination: true, TurnUnknown: true,
}

// Valid reports whether t is a recognised direction. Empty means unknown.
func (t TurnDirection) Valid() bool {
	return knownTurns[TurnDirection(strings.ToLower(string(t)))]
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Junction is one decision point along a route.
type Junction struct {
	ID                        int           `json:"id" yaml:"id"`
	Address                   string        `json:"address" yaml:"address"`
	StreetName                string        `json:"street_name,omitempty" yaml:"street_name"`
	Coordinates               Coordinates   `json:"coordinates" yaml:"coordinates"`
	Turn                      TurnDirection `json:"turn,omitempty" yaml:"turn"`
	Instruction               string        `json:"instruction,omitempty" yaml:"instruction"`
	DistanceToNextMeters      float64       `json:"distance_to_next_meters,omitempty" yaml:"distance_to_next_meters"`
	DurationToNextSeconds     float64       `json:"duration_to_next_seconds,omitempty" yaml:"duration_to_next_seconds"`
	CumulativeDistanceMeters  float64       `json:"cumulative_distance_meters" yaml:"cumulative_distance_meters"`
	CumulativeDurationSeconds float64       `json:"cumulative_duration_seconds" yaml:"cumulative_duration_seconds"`
	Maneuver                  string        `json:"maneuver,omitempty" yaml:"maneuver"`
	Neighborhood              string        `json:"neighborhood,omitempty" yaml:"neighborhood"`
	Landmarks                 []string      `json:"landmarks,omitempty" yaml:"landmarks"`
}

// Label returns the street name when known, otherwise the address.
func (j Junction) Label() string {
	if j.StreetName != "" {
		return j.StreetName
	}
	return j.Address
}

// SearchTerms returns the phrases a content provider should look up for this junction.
func (j Junction) SearchTerms() []string {
	terms := make([]string, 0, 3+len(j.Landmarks))
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		terms = append(terms, s)
	}
	add(j.StreetName)
	add(j.Neighborhood)
	for _, l := range j.Landmarks {
		add(l)
	}
	add(j.Address)
	return terms
}

// Route is an ordered, non-empty sequence of junctions between two places.
type Route struct {
	Source               string     `json:"source" yaml:"source"`
	Destination          string     `json:"destination" yaml:"destination"`
	TotalDistanceMeters  float64    `json:"total_distance_meters" yaml:"total_distance_meters"`
	TotalDurationSeconds float64    `json:"total_duration_seconds" yaml:"total_duration_seconds"`
	Polyline             string     `json:"polyline,omitempty" yaml:"polyline"`
	Warnings             []string   `json:"warnings,omitempty" yaml:"warnings"`
	Junctions            []Junction `json:"junctions" yaml:"junctions"`
}

// JunctionCount returns the number of junctions on the route.
func (r *Route) JunctionCount() int {
	return len(r.Junctions)
}

// TotalDistanceText formats the total distance for display.
func (r *Route) TotalDistanceText() string {
	if r.TotalDistanceMeters >= 1000 {
		return fmt.Sprintf("%.1f km", r.TotalDistanceMeters/1000)
	}
	return fmt.Sprintf("%.0f m", r.TotalDistanceMeters)
}

// TotalDurationText formats the total duration for display.
func (r *Route) TotalDurationText() string {
	mins := int(r.TotalDurationSeconds / 60)
	if mins >= 60 {
		return fmt.Sprintf("%d h %d min", mins/60, mins%60)
	}
	return fmt.Sprintf("%d min", mins)
}
