package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types. Rows are append-only.
const (
	TransactionPayment    = "payment"
	TransactionPayout     = "payout"
	TransactionCommission = "commission"
	TransactionRefund     = "refund"
)

type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
