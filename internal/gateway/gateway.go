// Package gateway talks to the payment processor that reserves, captures,
// refunds and pays out money. Implementations never retry on their own.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment statuses as reported by the processor.
const (
	PaymentPending           = "pending"
	PaymentWaitingForCapture = "waiting_for_capture"
	PaymentSucceeded         = "succeeded"
	PaymentCanceled          = "canceled"
)

// Payout statuses.
const (
	PayoutPending   = "pending"
	PayoutSucceeded = "succeeded"
	PayoutCanceled  = "canceled"
)

type Payment struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	Paid            bool              `json:"paid"`
	Amount          decimal.Decimal   `json:"amount"`
	ConfirmationURL string            `json:"confirmation_url,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type Refund struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

type Payout struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

type CreateHoldRequest struct {
	Amount      decimal.Decimal
	Description string
	Metadata    map[string]string
	ExpiresAt   time.Time
}

type PayoutRequest struct {
	Amount         decimal.Decimal
	PayoutToken    string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Client is the processor contract the ledger and payout engine depend on.
type Client interface {
	CreateHold(ctx context.Context, req CreateHoldRequest) (*Payment, error)
	CaptureHold(ctx context.Context, paymentID string) (*Payment, error)
	CancelHold(ctx context.Context, paymentID string) (*Payment, error)
	CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, description string) (*Refund, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
}

// Error wraps every processor failure: transport, timeout, non-2xx, decode.
type Error struct {
	Op         string
	StatusCode int    // 0 when the request never got a response
	Code       string // processor error code, if any
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d %s: %v", e.Op, e.StatusCode, e.Code, e.Cause)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Temporary reports whether a retry with the same idempotency key may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsError reports whether err came out of a gateway call.
func IsError(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr)
}

// Idempotence keys. Creates and refunds get a fresh key per logical call;
// capture and cancel are tied to the payment so a repeated call is a no-op.
func newKey(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), uuid.NewString())
}

func captureKey(paymentID string) string { return "capture-" + paymentID }

func cancelKey(paymentID string) string { return "cancel-" + paymentID }
