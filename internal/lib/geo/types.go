package geo

import "github.com/paulmach/orb"

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline"`
	Points          []Point `json:"points"`
}

// LineString returns the decoded points in (lon, lat) order.
func (p Polyline) LineString() orb.LineString {
	ls := make(orb.LineString, len(p.Points))
	for i, pt := range p.Points {
		ls[i] = orb.Point{pt.Longitude, pt.Latitude}
	}
	return ls
}

// Interval is a closed parameter range [Lo, Hi] along a segment, with 0 <= Lo <= Hi <= 1.
type Interval struct {
	Lo float64
	Hi float64
}

// GeoUtils interface defines the geometric operations used for incident matching.
// All planar operations expect projected (metric) coordinates.
type GeoUtils interface {
	// Decode Google polyline string to point sequence
	DecodePolyline(encoded string) ([]Point, error)

	// Reproject a geographic (lon, lat) line to web mercator meters. The input is not modified.
	ToMercator(line orb.LineString) orb.LineString

	// Length of line that lies within radius of other
	BufferedOverlapLength(line, other orb.LineString, radius float64) float64

	// Whether two lines share at least one point
	LinesTouch(a, b orb.LineString) bool
}

// NewGeoUtils is implemented in geo.go
