package incident

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

type rawFeatureCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	ID         Code            `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type rawProperties struct {
	ID     Code     `json:"id"`
	Events []Event  `json:"events"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Delay  *float64 `json:"delay"`
}

// ParseFeatureCollection decodes an incident GeoJSON feature collection.
//
// Only a malformed document is an error. Features that cannot be decoded or carry no id
// are skipped and counted; an unknown or missing geometry yields an incident without shape.
func ParseFeatureCollection(data []byte) (incidents []Incident, skipped int, err error) {
	var fc rawFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, 0, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "" && fc.Type != "FeatureCollection" {
		return nil, 0, fmt.Errorf("unexpected GeoJSON type %q", fc.Type)
	}

	incidents = make([]Incident, 0, len(fc.Features))
	for _, f := range fc.Features {
		inc, ok := parseFeature(f)
		if !ok {
			skipped++
			continue
		}
		incidents = append(incidents, inc)
	}

	return incidents, skipped, nil
}

func parseFeature(f rawFeature) (Incident, bool) {
	var props rawProperties
	if len(f.Properties) > 0 {
		if err := json.Unmarshal(f.Properties, &props); err != nil {
			return Incident{}, false
		}
	}

	inc := Incident{
		ID:     string(props.ID),
		Events: props.Events,
		Delay:  props.Delay,
		From:   props.From,
		To:     props.To,
	}
	if inc.ID == "" {
		inc.ID = string(f.ID)
	}
	if inc.ID == "" {
		return Incident{}, false
	}

	// keep the raw properties for templates and debugging
	if len(f.Properties) > 0 {
		_ = json.Unmarshal(f.Properties, &inc.Properties)
	}

	if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
		var g geojson.Geometry
		if err := json.Unmarshal(f.Geometry, &g); err == nil {
			inc.Shape = g.Geometry()
		}
	}

	return inc, true
}
