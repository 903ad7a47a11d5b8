package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout statuses
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusSucceeded  = "succeeded"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

var ValidPayoutTransitions = map[string][]string{
	PayoutStatusPending:    {PayoutStatusProcessing},
	PayoutStatusProcessing: {PayoutStatusSucceeded, PayoutStatusFailed, PayoutStatusCancelled},
	PayoutStatusFailed:     {PayoutStatusProcessing},
	PayoutStatusSucceeded:  {},
	PayoutStatusCancelled:  {},
}

func IsValidPayoutTransition(from, to string) bool {
	return canTransition(ValidPayoutTransitions, from, to)
}

func IsTerminalPayoutStatus(status string) bool {
	return isTerminal(ValidPayoutTransitions, status)
}

// PayoutIdempotencyKey is derived from the captured hold and the payee,
// so every retrigger for the same pair maps onto the same row.
func PayoutIdempotencyKey(holdID, contractorID uuid.UUID) string {
	return fmt.Sprintf("payout:%s:%s", holdID, contractorID)
}

type Payout struct {
	ID               uuid.UUID       `json:"id"`
	HoldID           uuid.UUID       `json:"hold_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	ContractorID     uuid.UUID       `json:"contractor_id"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	IdempotencyKey   string          `json:"idempotency_key"`
	RetryCount       int             `json:"retry_count"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	ExternalPayoutID *string         `json:"external_payout_id,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
