package services

import (
	"context"

	"github.com/dpup/prefab/logging"
	"github.com/paulmach/orb"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/feed"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// Pipeline turns incidents into alerts for one pass
type Pipeline struct {
	engine   *alerts.RuleEngine
	matcher  routing.RouteMatcher
	identity incident.AlertIdentity
	builder  *alerts.AlertBuilder
}

// NewPipeline creates a pipeline evaluating templates in declared order
func NewPipeline(templates []alerts.Template, matcher routing.RouteMatcher, identity incident.AlertIdentity) *Pipeline {
	return &Pipeline{
		engine:   alerts.NewRuleEngine(templates),
		matcher:  matcher,
		identity: identity,
		builder:  alerts.NewAlertBuilder(),
	}
}

// Match evaluates incidents in input order. An incident produces an alert when a template
// applies and at least one pattern is affected. When two incidents map to the same alert id
// the later alert replaces the earlier one in place.
func (p *Pipeline) Match(ctx context.Context, incidents []incident.Incident, patterns []routing.Pattern) ([]alerts.Alert, []feed.Match) {
	candidates := p.matcher.Prepare(patterns)

	var result []alerts.Alert
	var matches []feed.Match
	position := make(map[string]int)
	var noTemplate, noRoutes int

	for _, inc := range incidents {
		template := p.engine.SelectTemplate(inc)
		if template == nil {
			noTemplate++
			continue
		}

		routes := p.matcher.AffectedRoutes(inc.Shape, candidates)
		if len(routes) == 0 {
			noRoutes++
			continue
		}

		alertID := p.identity.DeriveID(inc)
		alert, ok, err := p.builder.Build(template, inc, routes, alertID)
		if err != nil {
			logging.Errorw(ctx, "Pipeline: failed to render alert",
				"incident.id", inc.ID, "template", template.DisplayName(), "error", err)
			continue
		}
		if !ok {
			continue
		}

		if i, seen := position[alertID]; seen {
			logging.Warnw(ctx, "Pipeline: duplicate alert id, replacing earlier alert",
				"alert.id", alertID, "incident.id", inc.ID)
			result[i] = alert
		} else {
			position[alertID] = len(result)
			result = append(result, alert)
		}

		line, _ := inc.Shape.(orb.LineString)
		matches = append(matches, feed.Match{
			AlertID:    alertID,
			IncidentID: inc.ID,
			Template:   template.DisplayName(),
			Shape:      line,
			Routes:     routes,
		})
	}

	logging.Infow(ctx, "Pipeline: matched incidents",
		"incidents", len(incidents), "patterns", len(candidates), "alerts", len(result),
		"no_template", noTemplate, "no_routes", noRoutes)

	return result, matches
}
