// Package incident provides the traffic incident model, GeoJSON decoding of incident
// feeds and stable alert identities derived from incident ids.
package incident

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// Code classifies an incident event. Feeds and template files use both numbers and
// strings, so both decode to the same canonical string.
type Code string

// UnmarshalJSON accepts JSON numbers and strings
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}

	normalized, err := normalizeNumber(string(data))
	if err != nil {
		return fmt.Errorf("invalid code %s: %w", data, err)
	}
	*c = Code(normalized)
	return nil
}

// UnmarshalYAML accepts YAML scalars of any type
func (c *Code) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: code must be a scalar", node.Line)
	}

	switch node.Tag {
	case "!!int", "!!float":
		normalized, err := normalizeNumber(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid code %q: %w", node.Line, node.Value, err)
		}
		*c = Code(normalized)
	default:
		*c = Code(node.Value)
	}
	return nil
}

// normalizeNumber renders integral numbers without fraction so 401 and 401.0 compare equal
func normalizeNumber(s string) (string, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// Event is one classified event of an incident
type Event struct {
	Code        Code   `json:"code"`
	Description string `json:"description,omitempty"`
}

// Incident is one real-world traffic event for a single matching pass
type Incident struct {
	ID     string       `json:"id"`
	Shape  orb.Geometry `json:"-"` // lon/lat, nil when absent or undecodable
	Events []Event      `json:"events"`
	Delay  *float64     `json:"delay,omitempty"` // nil means not applicable
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`

	// Properties holds all feature properties as delivered by the source
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Codes returns the event codes in feed order, nil when the incident carries no events
func (i Incident) Codes() []Code {
	if len(i.Events) == 0 {
		return nil
	}
	codes := make([]Code, len(i.Events))
	for n, e := range i.Events {
		codes[n] = e.Code
	}
	return codes
}

// IsLine reports whether the incident shape can be matched against route patterns
func (i Incident) IsLine() bool {
	ls, ok := i.Shape.(orb.LineString)
	return ok && len(ls) >= 2
}
