package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles
const (
	RoleCustomer   = "customer"
	RoleContractor = "contractor"
	RoleAdmin      = "admin"
)

// Contractor tiers drive the platform commission rate.
const (
	TierExpert       = "expert"
	TierProfessional = "professional"
	TierSpecialist   = "specialist"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	ContractorTier *string   `json:"contractor_tier,omitempty"`
	FullName       string    `json:"full_name"`
	Phone          *string   `json:"phone,omitempty"`
	PayoutToken    *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Tier returns the contractor tier, specialist when unset.
func (u *User) Tier() string {
	if u.ContractorTier == nil || *u.ContractorTier == "" {
		return TierSpecialist
	}
	return *u.ContractorTier
}

// Actor is the authenticated caller of a state-machine operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// AuditID is nil for the system actor.
func (a Actor) AuditID() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// ActorType is what ends up in audit_log.actor_type.
func (a Actor) ActorType() string {
	if a.UserID == uuid.Nil {
		return ActorSystem
	}
	if a.Role == RoleAdmin {
		return ActorAdmin
	}
	return ActorUser
}

// SystemActor is used by background sweeps.
var SystemActor = Actor{Role: RoleAdmin}
