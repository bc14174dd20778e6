package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// testContext carries a logger for code that logs through the context
func testContext(t *testing.T) context.Context {
	return logging.EnsureLogger(t.Context())
}

// metersPerDegree at the equator, where mercator meters equal ground meters
const metersPerDegree = 111319.49079327357

func at(dx, dy float64) orb.Point {
	return orb.Point{dx / metersPerDegree, dy / metersPerDegree}
}

const testTemplates = `
templates:
  - name: closure
    conditions:
      - code: 401
    cause: CONSTRUCTION
    effect: DETOUR
    header:
      en: "Closure {{ .From }} - {{ .To }}"
  - name: jam
    conditions:
      - code: 108
        delay: 100
    cause: OTHER_CAUSE
    effect: SIGNIFICANT_DELAYS
    header:
      en: "Lines {{ join (extractProperty .Routes \"shortName\") \", \" }}"
`

func newTestPipeline(t *testing.T, strategy incident.IdentityStrategy) *Pipeline {
	templates, err := alerts.ParseTemplates([]byte(testTemplates))
	require.NoError(t, err)
	matcher, err := routing.NewRouteMatcher(routing.DefaultMatchConfig())
	require.NoError(t, err)
	identity, err := incident.NewAlertIdentity(strategy)
	require.NoError(t, err)
	return NewPipeline(templates, matcher, identity)
}

// testPatterns: S1 runs along y=0 from x=-50 to 250, S2 along y=500, S10 crosses x=100
func testPatterns() []routing.Pattern {
	return []routing.Pattern{
		{Headsign: "East", Route: routing.Route{GtfsID: "S1", ShortName: "S1"}, Shape: orb.LineString{at(-50, 2), at(250, 2)}},
		{Headsign: "West", Route: routing.Route{GtfsID: "S1", ShortName: "S1"}, Shape: orb.LineString{at(250, -2), at(-50, -2)}},
		{Headsign: "North", Route: routing.Route{GtfsID: "S2", ShortName: "S2"}, Shape: orb.LineString{at(-50, 500), at(250, 500)}},
		{Headsign: "Along", Route: routing.Route{GtfsID: "S10", ShortName: "S10"}, Shape: orb.LineString{at(-50, -3), at(250, -3)}},
	}
}

func lineIncident(id, code string, delay *float64, y float64) incident.Incident {
	return incident.Incident{
		ID:     id,
		Shape:  orb.LineString{at(0, y), at(200, y)},
		Events: []incident.Event{{Code: incident.Code(code)}},
		Delay:  delay,
		From:   "A",
		To:     "B",
	}
}

// featureCollection renders incidents as the GeoJSON the incident source delivers
func featureCollection(incidents ...incident.Incident) []byte {
	features := make([]string, len(incidents))
	for i, inc := range incidents {
		line := inc.Shape.(orb.LineString)
		coords := make([]string, len(line))
		for j, p := range line {
			coords[j] = fmt.Sprintf("[%g,%g]", p[0], p[1])
		}
		delay := "null"
		if inc.Delay != nil {
			delay = fmt.Sprintf("%g", *inc.Delay)
		}
		features[i] = fmt.Sprintf(`{"type":"Feature","geometry":{"type":"LineString","coordinates":[%s]},`+
			`"properties":{"id":%q,"events":[{"code":%s}],"delay":%s,"from":%q,"to":%q}}`,
			strings.Join(coords, ","), inc.ID, inc.Events[0].Code, delay, inc.From, inc.To)
	}
	return []byte(`{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`)
}

func float(v float64) *float64 { return &v }
