package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation statuses
const (
	InvitationStatusPending   = "pending"
	InvitationStatusAccepted  = "accepted"
	InvitationStatusRejected  = "rejected"
	InvitationStatusCompleted = "completed"
	InvitationStatusCancelled = "cancelled"
)

var ValidInvitationTransitions = map[string][]string{
	InvitationStatusPending:   {InvitationStatusAccepted, InvitationStatusRejected, InvitationStatusCancelled},
	InvitationStatusAccepted:  {InvitationStatusCompleted, InvitationStatusCancelled},
	InvitationStatusRejected:  {},
	InvitationStatusCompleted: {},
	InvitationStatusCancelled: {},
}

func IsValidInvitationTransition(from, to string) bool {
	return canTransition(ValidInvitationTransitions, from, to)
}

// IsOpenInvitationStatus: at most one open invitation may exist per order.
func IsOpenInvitationStatus(status string) bool {
	return status == InvitationStatusPending || status == InvitationStatusAccepted
}

type Invitation struct {
	ID                  uuid.UUID `json:"id"`
	CustomerID          uuid.UUID `json:"customer_id"`
	ContractorID        uuid.UUID `json:"contractor_id"`
	PersonalizedOrderID uuid.UUID `json:"personalized_order_id"`
	Message             *string   `json:"message,omitempty"`
	RejectionReason     *string   `json:"rejection_reason,omitempty"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
