package alerts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// funcMap holds the helpers available to template authors
var funcMap = template.FuncMap{
	"naturalSort":     NaturalSortStrings,
	"extractProperty": ExtractProperty,
	"join":            strings.Join,
	"upper":           strings.ToUpper,
	"lower":           strings.ToLower,
}

// AlertBuilder renders templates into alerts
type AlertBuilder struct{}

// NewAlertBuilder creates a new AlertBuilder
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{}
}

// Build creates the alert for an incident. It reports false without rendering anything
// when no route is affected.
func (b *AlertBuilder) Build(t *Template, inc incident.Incident, routes []routing.Route, alertID string) (Alert, bool, error) {
	if len(routes) == 0 {
		return Alert{}, false, nil
	}

	sorted := SortRoutes(routes)
	data := RenderContext{
		ID:       alertID,
		From:     inc.From,
		To:       inc.To,
		Routes:   sorted,
		Incident: inc,
	}

	alert := Alert{
		ID:             alertID,
		Cause:          t.Cause,
		Effect:         t.Effect,
		InformedEntity: make([]EntitySelector, len(sorted)),
	}
	for i, r := range sorted {
		alert.InformedEntity[i] = EntitySelector{RouteID: r.GtfsID}
	}

	var err error
	if alert.URL, err = t.render(fieldURL, data); err != nil {
		return Alert{}, false, err
	}
	if alert.HeaderText, err = t.render(fieldHeader, data); err != nil {
		return Alert{}, false, err
	}
	if alert.DescriptionText, err = t.render(fieldDescription, data); err != nil {
		return Alert{}, false, err
	}

	return alert, true, nil
}

// SortRoutes returns a copy of routes in natural order of their short names
func SortRoutes(routes []routing.Route) []routing.Route {
	sorted := make([]routing.Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return NaturalLess(sorted[i].ShortName, sorted[j].ShortName)
	})
	return sorted
}

// NaturalSortStrings returns a naturally sorted copy of values
func NaturalSortStrings(values []string) []string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		return NaturalLess(sorted[i], sorted[j])
	})
	return sorted
}

// ExtractProperty projects one route field out of a route list
func ExtractProperty(routes []routing.Route, property string) ([]string, error) {
	var get func(routing.Route) string
	switch strings.ToLower(strings.ReplaceAll(property, "_", "")) {
	case "gtfsid", "id", "routeid":
		get = func(r routing.Route) string { return r.GtfsID }
	case "shortname":
		get = func(r routing.Route) string { return r.ShortName }
	case "longname":
		get = func(r routing.Route) string { return r.LongName }
	case "mode":
		get = func(r routing.Route) string { return r.Mode }
	case "type":
		get = func(r routing.Route) string { return strconv.Itoa(r.Type) }
	default:
		return nil, fmt.Errorf("unknown route property %q", property)
	}

	values := make([]string, len(routes))
	for i, r := range routes {
		values[i] = get(r)
	}
	return values, nil
}

// NaturalLess compares strings with embedded digit runs treated as integers, so
// "Line 9" sorts before "Line 10". Text runs compare case-insensitively.
func NaturalLess(a, b string) bool {
	pa, pb := splitNatural(a), splitNatural(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		var c int
		if i%2 == 1 {
			c = compareDigits(pa[i], pb[i])
		} else {
			c = strings.Compare(strings.ToLower(pa[i]), strings.ToLower(pb[i]))
		}
		if c != 0 {
			return c < 0
		}
	}
	return len(pa) < len(pb)
}

// splitNatural splits into alternating text and digit runs, always starting with a
// (possibly empty) text run so that odd indices are digits.
func splitNatural(s string) []string {
	parts := []string{}
	start := 0
	digits := false
	for i := 0; i < len(s); i++ {
		isDigit := s[i] >= '0' && s[i] <= '9'
		if isDigit != digits {
			parts = append(parts, s[start:i])
			start = i
			digits = isDigit
		}
	}
	return append(parts, s[start:])
}

// compareDigits compares digit runs numerically without overflow
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
