package domain

import (
	"fmt"
	"time"
)

// PersonaRole is the buying-committee role a persona plays.
type PersonaRole string

const (
	PersonaRoleDecisionMaker PersonaRole = "decision_maker"
	PersonaRoleInfluencer    PersonaRole = "influencer"
	PersonaRoleGatekeeper    PersonaRole = "gatekeeper"
	PersonaRoleUser          PersonaRole = "user"
)

// IsValid reports whether r is a known role.
func (r PersonaRole) IsValid() bool {
	switch r {
	case PersonaRoleDecisionMaker, PersonaRoleInfluencer, PersonaRoleGatekeeper, PersonaRoleUser:
		return true
	}
	return false
}

// Persona is the simulated customer a trainee talks to.
// PersonalityTraits is open-ended and passed through untouched.
type Persona struct {
	ID                string
	TenantID          string
	Name              string
	Role              PersonaRole
	PersonalityTraits map[string]any
	PainPoints        []string
	Objections        []string
	Background        string
	CreatedAt         time.Time
}

// ValidatePersona validates a Persona instance
func ValidatePersona(p *Persona) error {
	switch {
	case p == nil:
		return fmt.Errorf("persona cannot be nil")
	case p.ID == "":
		return fmt.Errorf("persona ID is required")
	case p.TenantID == "":
		return fmt.Errorf("persona TenantID is required")
	case p.Name == "":
		return fmt.Errorf("persona Name is required")
	case !p.Role.IsValid():
		return fmt.Errorf("persona Role %q is invalid", p.Role)
	}
	return nil
}
