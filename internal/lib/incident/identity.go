package incident

import (
	"fmt"

	"github.com/google/uuid"
)

// IdentityStrategy selects how alert ids are derived from incident ids
type IdentityStrategy string

const (
	// Passthrough uses the provider id verbatim
	Passthrough IdentityStrategy = "passthrough"
	// UUID5 hashes the provider id into a name-based UUID under AlertNamespace
	UUID5 IdentityStrategy = "uuid5"
)

// AlertNamespace is the fixed namespace for UUID5 alert ids. Changing it changes every
// published alert id and breaks retraction of alerts published before the change.
var AlertNamespace = uuid.MustParse("0715e0ca-0427-49ce-b3c8-5f83b400d00b")

// AlertIdentity derives stable alert ids
type AlertIdentity interface {
	DeriveID(incident Incident) string
	Strategy() IdentityStrategy
}

type passthroughIdentity struct{}

func (passthroughIdentity) DeriveID(incident Incident) string { return incident.ID }
func (passthroughIdentity) Strategy() IdentityStrategy { return Passthrough }

type uuid5Identity struct {
	namespace uuid.UUID
}

func (u uuid5Identity) DeriveID(incident Incident) string {
	return uuid.NewSHA1(u.namespace, []byte(incident.ID)).String()
}

func (uuid5Identity) Strategy() IdentityStrategy { return UUID5 }

// NewAlertIdentity creates the identity for the configured strategy. An empty strategy
// selects UUID5.
func NewAlertIdentity(strategy IdentityStrategy) (AlertIdentity, error) {
	switch strategy {
	case Passthrough:
		return passthroughIdentity{}, nil
	case UUID5, "":
		return uuid5Identity{namespace: AlertNamespace}, nil
	default:
		return nil, fmt.Errorf("unknown identity strategy %q", strategy)
	}
}
