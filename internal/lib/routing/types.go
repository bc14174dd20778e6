package routing

import (
	"github.com/paulmach/orb"
)

// Strategy selects the geometric test used to decide whether a pattern is affected
type Strategy string

const (
	BufferIntersection Strategy = "buffer_intersection" // buffered overlap length >= threshold
	ZeroDistance       Strategy = "zero_distance"       // legacy, lines touch or cross
)

// Route is a transit line as exposed by the pattern source
type Route struct {
	GtfsID    string `json:"gtfsId"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	Mode      string `json:"mode"`
	Type      int    `json:"type"`
}

// Pattern is an active route variant with its geographic (lon, lat) shape
type Pattern struct {
	Headsign    string         `json:"headsign"`
	DirectionID int            `json:"directionId"`
	Route       Route          `json:"route"`
	Shape       orb.LineString `json:"-"`
}

// Candidate is a pattern whose shape has already been projected to meters
type Candidate struct {
	Route Route
	shape orb.LineString
}

// MatchConfig configures the matcher
type MatchConfig struct {
	Strategy              Strategy `yaml:"strategy" validate:"oneof=buffer_intersection zero_distance"`
	BufferRadius          float64  `yaml:"buffer_radius" validate:"gte=0"`          // meters
	MinIntersectionLength float64  `yaml:"min_intersection_length" validate:"gt=0"` // meters
}

// DefaultMatchConfig returns the buffered intersection policy with 5m buffer and 40m overlap
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Strategy:              BufferIntersection,
		BufferRadius:          5,
		MinIntersectionLength: 40,
	}
}

// RouteMatcher decides which transit patterns an incident shape affects
type RouteMatcher interface {
	// Project patterns once per pass
	Prepare(patterns []Pattern) []Candidate

	// Test a single geographic incident shape against a single geographic pattern shape
	Matches(incidentShape orb.Geometry, patternShape orb.LineString) bool

	// Deduplicated routes of all candidates affected by the incident shape
	AffectedRoutes(incidentShape orb.Geometry, candidates []Candidate) []Route
}

// NewRouteMatcher is implemented in matcher.go
