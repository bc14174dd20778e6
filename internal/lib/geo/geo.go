package geo

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/twpayne/go-polyline"
)

// geoUtils implements the GeoUtils interface
type geoUtils struct{}

// NewGeoUtils creates a new GeoUtils implementation
func NewGeoUtils() GeoUtils {
	return &geoUtils{}
}

// DecodePolyline decodes Google polyline string to point sequence
func (g *geoUtils) DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !isValidCoordinate(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// ToMercator projects a WGS84 line into EPSG:3857 meters
func (g *geoUtils) ToMercator(line orb.LineString) orb.LineString {
	// project.LineString works in place
	return project.LineString(line.Clone(), project.WGS84.ToMercator)
}

// BufferedOverlapLength returns the length of line inside the buffer of other.
//
// The buffer of a polyline is the union of one capsule per segment. Each capsule is
// convex, so a segment of line crosses it along a single parameter interval. The
// intervals per segment are merged and summed, which gives the exact length of
// line ∩ buffer(other, radius) for a round-capped buffer.
func (g *geoUtils) BufferedOverlapLength(line, other orb.LineString, radius float64) float64 {
	if len(line) < 2 || len(other) == 0 || radius < 0 {
		return 0
	}

	if !line.Bound().Intersects(other.Bound().Pad(radius)) {
		return 0
	}

	// single point incidents buffer to a disk
	if len(other) == 1 {
		other = orb.LineString{other[0], other[0]}
	}

	capsules := make([]orb.Bound, len(other)-1)
	for j := 0; j < len(other)-1; j++ {
		capsules[j] = orb.Bound{Min: other[j], Max: other[j]}.Extend(other[j+1]).Pad(radius)
	}

	total := 0.0
	intervals := make([]Interval, 0, 8)
	for i := 0; i < len(line)-1; i++ {
		a, b := line[i], line[i+1]
		segLen := dist(a, b)
		if segLen == 0 {
			continue
		}

		segBound := orb.Bound{Min: a, Max: a}.Extend(b)
		intervals = intervals[:0]
		for j := 0; j < len(other)-1; j++ {
			if !segBound.Intersects(capsules[j]) {
				continue
			}
			if iv, ok := capsuleInterval(a, b, other[j], other[j+1], radius); ok {
				intervals = append(intervals, iv)
			}
		}

		total += mergedLength(intervals) * segLen
	}

	return total
}

// LinesTouch reports whether any segment of a intersects any segment of b
func (g *geoUtils) LinesTouch(a, b orb.LineString) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	if len(a) == 1 {
		a = orb.LineString{a[0], a[0]}
	}
	if len(b) == 1 {
		b = orb.LineString{b[0], b[0]}
	}

	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// capsuleInterval returns the parameter range of segment a->b that lies within
// radius of segment q->r.
func capsuleInterval(a, b, q, r orb.Point, radius float64) (Interval, bool) {
	d := sub(b, a)
	found := false
	lo, hi := math.Inf(1), math.Inf(-1)

	add := func(iv Interval, ok bool) {
		if !ok {
			return
		}
		iv.Lo = math.Max(iv.Lo, 0)
		iv.Hi = math.Min(iv.Hi, 1)
		if iv.Lo > iv.Hi {
			return
		}
		found = true
		lo = math.Min(lo, iv.Lo)
		hi = math.Max(hi, iv.Hi)
	}

	add(diskInterval(a, d, q, radius))
	add(diskInterval(a, d, r, radius))

	e := sub(r, q)
	l2 := dot(e, e)
	if l2 > 0 {
		w := sub(a, q)
		l := math.Sqrt(l2)

		// projection onto q->r stays within the segment
		along, okAlong := linearRange(dot(w, e)/l2, dot(d, e)/l2, 0, 1)
		// perpendicular offset within radius
		across, okAcross := linearRange(cross(e, w)/l, cross(e, d)/l, -radius, radius)
		if okAlong && okAcross {
			add(Interval{Lo: math.Max(along.Lo, across.Lo), Hi: math.Min(along.Hi, across.Hi)}, true)
		}
	}

	if !found {
		return Interval{}, false
	}
	return Interval{Lo: lo, Hi: hi}, true
}

// diskInterval solves |a + t*d - c| <= radius for t
func diskInterval(a, d, c orb.Point, radius float64) (Interval, bool) {
	w := sub(a, c)
	qa := dot(d, d)
	qb := 2 * dot(d, w)
	qc := dot(w, w) - radius*radius

	if qa == 0 {
		return Interval{Lo: 0, Hi: 1}, qc <= 0
	}

	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return Interval{}, false
	}

	sq := math.Sqrt(disc)
	return Interval{Lo: (-qb - sq) / (2 * qa), Hi: (-qb + sq) / (2 * qa)}, true
}

// linearRange solves lo <= alpha + beta*t <= hi for t
func linearRange(alpha, beta, lo, hi float64) (Interval, bool) {
	if beta == 0 {
		if alpha < lo || alpha > hi {
			return Interval{}, false
		}
		return Interval{Lo: math.Inf(-1), Hi: math.Inf(1)}, true
	}

	t1 := (lo - alpha) / beta
	t2 := (hi - alpha) / beta
	if t1 > t2 {
		t1, t2 = t2, t1
	}
	return Interval{Lo: t1, Hi: t2}, true
}

// mergedLength sums the length of the union of intervals. The slice is reordered.
func mergedLength(intervals []Interval) float64 {
	if len(intervals) == 0 {
		return 0
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Lo < intervals[j].Lo })

	total := 0.0
	cur := intervals[0]
	for _, iv := range intervals[1:] {
		if iv.Lo <= cur.Hi {
			cur.Hi = math.Max(cur.Hi, iv.Hi)
			continue
		}
		total += cur.Hi - cur.Lo
		cur = iv
	}
	return total + cur.Hi - cur.Lo
}

func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// collinear and touching cases
	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

func orientation(a, b, c orb.Point) float64 {
	return cross(sub(b, a), sub(c, a))
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func sub(a, b orb.Point) orb.Point { return orb.Point{a[0] - b[0], a[1] - b[1]} }
func dot(a, b orb.Point) float64 { return a[0]*b[0] + a[1]*b[1] }
func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }
func dist(a, b orb.Point) float64 { return math.Hypot(a[0]-b[0], a[1]-b[1]) }

// isValidCoordinate validates latitude and longitude ranges
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
