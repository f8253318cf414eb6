package route

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tourguide/internal/errs"
)

const sampleYAML = `
source: Tel Aviv
destination: Jerusalem
total_distance_meters: 65400
total_duration_seconds: 3300
junctions:
  - id: 1
    address: Rothschild Blvd, Tel Aviv
    street_name: Rothschild Boulevard
    turn: LEFT
    cumulative_duration_seconds: 0
  - id: 2
    address: Ayalon Hwy
    turn: merge
    cumulative_duration_seconds: 420
    landmarks: [Azrieli Center]
  - id: 5
    address: Jaffa Gate, Jerusalem
    turn: destination
    cumulative_duration_seconds: 3300
`

func TestParseYAML(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "Tel Aviv", r.Source)
	assert.Equal(t, 3, r.JunctionCount())
	assert.Equal(t, TurnLeft, r.Junctions[0].Turn)
	assert.Equal(t, []string{"Azrieli Center", "Ayalon Hwy"}, r.Junctions[1].SearchTerms())
	assert.Equal(t, "65.4 km", r.TotalDistanceText())
	assert.Equal(t, "55 min", r.TotalDurationText())
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.json")
	doc := `{"source":"A","destination":"B","junctions":[{"id":1,"address":"Main St"},{"id":2,"address":"High St","turn":"right"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.JunctionCount())
	assert.Equal(t, "Main St", r.Junctions[0].Label())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		route *Route
		field string
	}{
		{"nil route", nil, "junctions"},
		{"empty", &Route{}, "junctions"},
		{"duplicate ids", &Route{Junctions: []Junction{{ID: 1}, {ID: 1}}}, "junctions[1].id"},
		{"decreasing ids", &Route{Junctions: []Junction{{ID: 3}, {ID: 2}}}, "junctions[1].id"},
		{"bad turn", &Route{Junctions: []Junction{{ID: 1, Turn: "sideways"}}}, "junctions[0].turn"},
		{"duration goes back", &Route{Junctions: []Junction{
			{ID: 1, CumulativeDurationSeconds: 10},
			{ID: 2, CumulativeDurationSeconds: 5},
		}}, "junctions[1].cumulative_duration_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
			var cfgErr *errs.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	ok := &Route{Junctions: []Junction{{ID: 1}, {ID: 4}, {ID: 9}}}
	assert.NoError(t, ok.Validate())
}

func TestFingerprint(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	b, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Len(t, a.Fingerprint(), 64)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Junctions[0].Address = "elsewhere"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestLoadExampleRoute(t *testing.T) {
	r, err := LoadFile(filepath.Join("..", "..", "examples", "routes", "dizengoff-to-jaffa.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, r.JunctionCount())
	assert.Equal(t, TurnDestination, r.Junctions[5].Turn)
	assert.Equal(t, "4.9 km", r.TotalDistanceText())
	assert.Equal(t, "18 min", r.TotalDurationText())
}
