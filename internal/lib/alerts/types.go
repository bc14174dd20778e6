package alerts

import (
	"errors"
	"text/template"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// ErrInvalidTemplate marks template configuration problems. Always fatal at startup.
var ErrInvalidTemplate = errors.New("invalid alert template")

// Condition is one clause of a template rule
type Condition struct {
	Code  incident.Code   `yaml:"code" validate:"required"`
	Or    []incident.Code `yaml:"or" validate:"omitempty,dive,required"`
	Delay *float64        `yaml:"delay" validate:"omitempty,gte=0"` // veto threshold, same unit as incident delay
}

// Template turns a matching incident into an alert
type Template struct {
	Name        string            `yaml:"name"`
	Conditions  []Condition       `yaml:"conditions" validate:"required,min=1,dive"`
	Cause       string            `yaml:"cause" validate:"required,gtfs_cause"`
	Effect      string            `yaml:"effect" validate:"required,gtfs_effect"`
	URL         map[string]string `yaml:"url" validate:"omitempty,dive,keys,required,endkeys,required"`
	Header      map[string]string `yaml:"header" validate:"omitempty,dive,keys,required,endkeys,required"`
	Description map[string]string `yaml:"description" validate:"omitempty,dive,keys,required,endkeys,required"`

	// compiled text per field and language, filled by ParseTemplates
	compiled map[textField]map[string]*template.Template
}

// TemplateFile is the top-level structure of the template configuration file
type TemplateFile struct {
	Templates []Template `yaml:"templates" validate:"required,min=1,dive"`
}

type textField string

const (
	fieldURL         textField = "url"
	fieldHeader      textField = "header"
	fieldDescription textField = "description"
)

// Translation is one localized text
type Translation struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// TranslatedString mirrors the GTFS-Realtime TranslatedString shape
type TranslatedString struct {
	Translation []Translation `json:"translation"`
}

// EntitySelector references an affected route
type EntitySelector struct {
	RouteID string `json:"route_id"`
}

// Alert is a built service alert. Its JSON form is the GTFS-Realtime JSON alert plus id.
type Alert struct {
	ID              string           `json:"id"`
	Cause           string           `json:"cause"`
	Effect          string           `json:"effect"`
	InformedEntity  []EntitySelector `json:"informed_entity"`
	URL             TranslatedString `json:"url"`
	HeaderText      TranslatedString `json:"header_text"`
	DescriptionText TranslatedString `json:"description_text"`
}

// RenderContext is the data available to text templates
type RenderContext struct {
	ID       string
	From     string
	To       string
	Routes   []routing.Route // naturally sorted by short name
	Incident incident.Incident
}
