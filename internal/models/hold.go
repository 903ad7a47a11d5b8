package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment hold statuses
const (
	HoldStatusHeld      = "held"
	HoldStatusReleased  = "released"
	HoldStatusCancelled = "cancelled"
	HoldStatusExpired   = "expired"
)

// Holds only ever leave HELD.
var ValidHoldTransitions = map[string][]string{
	HoldStatusHeld:      {HoldStatusReleased, HoldStatusCancelled, HoldStatusExpired},
	HoldStatusReleased:  {},
	HoldStatusCancelled: {},
	HoldStatusExpired:   {},
}

func IsValidHoldTransition(from, to string) bool {
	return canTransition(ValidHoldTransitions, from, to)
}

type PaymentHold struct {
	ID                  uuid.UUID       `json:"id"`
	PersonalizedOrderID uuid.UUID       `json:"personalized_order_id"`
	CustomerID          uuid.UUID       `json:"customer_id"`
	Amount              decimal.Decimal `json:"amount"`
	RefundedAmount      decimal.Decimal `json:"refunded_amount"`
	Description         string          `json:"description"`
	Status              string          `json:"status"`
	GatewayPaymentID    string          `json:"gateway_payment_id"`
	ConfirmationURL     *string         `json:"confirmation_url,omitempty"`
	ExpiresAt           time.Time       `json:"expires_at"`
	ReleasedAt          *time.Time      `json:"released_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	ExpiredAt           *time.Time      `json:"expired_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (h *PaymentHold) IsExpired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Refundable is the captured amount not yet returned to the customer.
func (h *PaymentHold) Refundable() decimal.Decimal {
	if h.Status != HoldStatusReleased {
		return decimal.Zero
	}
	return h.Amount.Sub(h.RefundedAmount)
}
