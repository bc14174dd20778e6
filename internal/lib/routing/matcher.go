package routing

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/geo"
)

// routeMatcher implements the RouteMatcher interface
type routeMatcher struct {
	geoUtils geo.GeoUtils
	config   MatchConfig
}

// NewRouteMatcher creates a RouteMatcher for the configured strategy
func NewRouteMatcher(config MatchConfig) (RouteMatcher, error) {
	if config.Strategy == "" {
		config.Strategy = BufferIntersection
	}

	switch config.Strategy {
	case BufferIntersection:
		if config.BufferRadius < 0 {
			return nil, fmt.Errorf("buffer radius must not be negative")
		}
		// with a zero threshold disjoint lines would match
		if config.MinIntersectionLength <= 0 {
			return nil, fmt.Errorf("minimum intersection length must be positive")
		}
	case ZeroDistance:
	default:
		return nil, fmt.Errorf("unknown matching strategy %q", config.Strategy)
	}

	return &routeMatcher{
		geoUtils: geo.NewGeoUtils(),
		config:   config,
	}, nil
}

// Prepare projects every pattern shape into meters
func (r *routeMatcher) Prepare(patterns []Pattern) []Candidate {
	candidates := make([]Candidate, 0, len(patterns))
	for _, p := range patterns {
		if len(p.Shape) < 2 {
			continue
		}
		candidates = append(candidates, Candidate{
			Route: p.Route,
			shape: r.geoUtils.ToMercator(p.Shape),
		})
	}
	return candidates
}

// Matches reports whether patternShape is affected by incidentShape
func (r *routeMatcher) Matches(incidentShape orb.Geometry, patternShape orb.LineString) bool {
	incidentLine, ok := r.projectIncident(incidentShape)
	if !ok || len(patternShape) < 2 {
		return false
	}
	return r.matchProjected(incidentLine, r.geoUtils.ToMercator(patternShape))
}

// AffectedRoutes returns routes in candidate order, each route at most once
func (r *routeMatcher) AffectedRoutes(incidentShape orb.Geometry, candidates []Candidate) []Route {
	incidentLine, ok := r.projectIncident(incidentShape)
	if !ok {
		return nil
	}

	var routes []Route
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c.Route.GtfsID] {
			continue
		}
		if r.matchProjected(incidentLine, c.shape) {
			seen[c.Route.GtfsID] = true
			routes = append(routes, c.Route)
		}
	}
	return routes
}

// projectIncident accepts line incidents only
func (r *routeMatcher) projectIncident(shape orb.Geometry) (orb.LineString, bool) {
	line, ok := shape.(orb.LineString)
	if !ok || len(line) < 2 {
		return nil, false
	}
	return r.geoUtils.ToMercator(line), true
}

func (r *routeMatcher) matchProjected(incident, pattern orb.LineString) bool {
	switch r.config.Strategy {
	case ZeroDistance:
		return r.geoUtils.LinesTouch(incident, pattern)
	default:
		length := r.geoUtils.BufferedOverlapLength(pattern, incident, r.config.BufferRadius)
		return length >= r.config.MinIntersectionLength
	}
}
