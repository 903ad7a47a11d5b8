package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Personalized order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusActive    = "active"
	OrderStatusCompleted = "completed"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
)

var ValidOrderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusActive, OrderStatusCancelled},
	OrderStatusActive:    {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {},
	OrderStatusCancelled: {},
}

func IsValidOrderTransition(from, to string) bool {
	return canTransition(ValidOrderTransitions, from, to)
}

func IsTerminalOrderStatus(status string) bool {
	return isTerminal(ValidOrderTransitions, status)
}

type PersonalizedOrder struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerID          uuid.UUID       `json:"customer_id"`
	ContractorID        uuid.UUID       `json:"contractor_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Budget              decimal.Decimal `json:"budget"`
	PlatformCommission  decimal.Decimal `json:"platform_commission"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	ContractorFee       decimal.Decimal `json:"contractor_fee"`
	FullAddress         string          `json:"-"`
	MaskedAddress       string          `json:"masked_address"`
	CustomerPhone       string          `json:"-"`
	MaskedPhone         string          `json:"masked_phone"`
	ScheduledDate       *time.Time      `json:"scheduled_date,omitempty"`
	SpecialInstructions *string         `json:"special_instructions,omitempty"`
	EstimatedDuration   *int            `json:"estimated_duration,omitempty"` // часы
	Status              string          `json:"status"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	ConfirmedAt         *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsParticipant reports whether userID is the customer or the contractor.
func (o *PersonalizedOrder) IsParticipant(userID uuid.UUID) bool {
	return o.CustomerID == userID || o.ContractorID == userID
}

// Counterparty returns the other side of the order for userID.
func (o *PersonalizedOrder) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == o.CustomerID {
		return o.ContractorID
	}
	return o.CustomerID
}
