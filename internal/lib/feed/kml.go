package feed

import (
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-kml"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// Match records one incident that produced an alert, for debugging the geometry test
type Match struct {
	AlertID    string
	IncidentID string
	Template   string
	Shape      orb.LineString // lon/lat
	Routes     []routing.Route
}

// WriteMatchesKML writes one placemark per match with the incident line and the
// affected routes in its description
func WriteMatchesKML(w io.Writer, name string, matches []Match) error {
	doc := kml.Document(kml.Name(name))
	for _, m := range matches {
		coords := make([]kml.Coordinate, len(m.Shape))
		for i, p := range m.Shape {
			coords[i] = kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()}
		}

		routes := make([]string, len(m.Routes))
		for i, r := range m.Routes {
			routes[i] = fmt.Sprintf("%s (%s)", r.ShortName, r.GtfsID)
		}

		doc.Add(kml.Placemark(
			kml.Name(m.IncidentID),
			kml.Description(fmt.Sprintf("alert %s, template %s: %s", m.AlertID, m.Template, strings.Join(routes, ", "))),
			kml.LineString(kml.Coordinates(coords...)),
		))
	}

	return kml.KML(doc).WriteIndent(w, "", "  ")
}

// WriteMatchesKMLFile writes the KML export atomically
func WriteMatchesKMLFile(path string, matches []Match) error {
	var b strings.Builder
	if err := WriteMatchesKML(&b, "gtfs-incident-alerts", matches); err != nil {
		return err
	}
	return WriteFileAtomic(path, []byte(b.String()))
}
