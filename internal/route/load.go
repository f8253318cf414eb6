package route

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tourguide/internal/errs"
)

// Validate checks the structural invariants a tour depends on:
// at least one junction and strictly increasing junction ids.
func (r *Route) Validate() error {
	if r == nil || len(r.Junctions) == 0 {
		return errs.Config("route", "junctions", "route has no junctions")
	}
	for i, j := range r.Junctions {
		if !j.Turn.Valid() {
			return errs.Config("route", fmt.Sprintf("junctions[%d].turn", i), fmt.Sprintf("unknown turn direction %q", j.Turn))
		}
		if i == 0 {
			continue
		}
		prev := r.Junctions[i-1]
		if j.ID <= prev.ID {
			return errs.Config("route", fmt.Sprintf("junctions[%d].id", i),
				fmt.Sprintf("junction ids must be strictly increasing (%d after %d)", j.ID, prev.ID))
		}
		if j.CumulativeDurationSeconds < prev.CumulativeDurationSeconds {
			return errs.Config("route", fmt.Sprintf("junctions[%d].cumulative_duration_seconds", i),
				"cumulative duration must not decrease")
		}
	}
	return nil
}

// Parse decodes a route document. JSON is accepted since it is valid YAML.
func Parse(data []byte) (*Route, error) {
	var r Route
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse route: %w", err)
	}
	for i := range r.Junctions {
		r.Junctions[i].Turn = TurnDirection(strings.ToLower(string(r.Junctions[i].Turn)))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadFile reads and validates a route from a YAML or JSON file.
func LoadFile(path string) (*Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Fingerprint is the BLAKE3 hash of the route's canonical JSON encoding.
// Two routes with the same content share a fingerprint.
func (r *Route) Fingerprint() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
