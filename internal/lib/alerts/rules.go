package alerts

import (
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
)

// Verdict is the running result of evaluating a template's clauses
type Verdict int

const (
	Unset     Verdict = iota // no clause matched yet
	Satisfied                // a clause matched and no later veto
	Vetoed                   // the last relevant clause vetoed on delay
)

func (v Verdict) String() string {
	switch v {
	case Satisfied:
		return "satisfied"
	case Vetoed:
		return "vetoed"
	default:
		return "unset"
	}
}

// apply folds one clause into the running verdict.
//
// A present code (primary or any alternative) sets Satisfied. Afterwards a delay threshold
// vetoes when both clause and incident carry a delay and the incident delay is below it,
// whether or not this clause's codes matched. A later matching clause can lift a veto.
func (c Condition) apply(v Verdict, codes map[incident.Code]bool, delay *float64) Verdict {
	if codes[c.Code] {
		v = Satisfied
	}
	for _, alt := range c.Or {
		if codes[alt] {
			v = Satisfied
		}
	}

	if c.Delay != nil && delay != nil && *delay < *c.Delay {
		v = Vetoed
	}
	return v
}

// Evaluate folds all clauses over the incident's codes and delay
func (t *Template) Evaluate(inc incident.Incident) Verdict {
	codes := make(map[incident.Code]bool, len(inc.Events))
	for _, code := range inc.Codes() {
		codes[code] = true
	}

	v := Unset
	for _, c := range t.Conditions {
		v = c.apply(v, codes, inc.Delay)
	}
	return v
}

// Available reports whether the template applies to the incident
func (t *Template) Available(inc incident.Incident) bool {
	if len(inc.Codes()) == 0 {
		return false
	}
	return t.Evaluate(inc) == Satisfied
}

// RuleEngine selects at most one template per incident
type RuleEngine struct {
	templates []Template
}

// NewRuleEngine keeps templates in declared order
func NewRuleEngine(templates []Template) *RuleEngine {
	return &RuleEngine{templates: templates}
}

// SelectTemplate returns the first available template, or nil when none applies
func (e *RuleEngine) SelectTemplate(inc incident.Incident) *Template {
	if len(inc.Codes()) == 0 {
		return nil
	}
	for i := range e.templates {
		if e.templates[i].Available(inc) {
			return &e.templates[i]
		}
	}
	return nil
}

// Templates returns the templates in evaluation order
func (e *RuleEngine) Templates() []Template {
	return e.templates
}
