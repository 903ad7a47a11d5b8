package dto

import (
	"time"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
)

// Envelope: {success, data} on success, {success, message} on failure.
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func OK(data any) SuccessResponse { return SuccessResponse{Success: true, Data: data} }

func Fail(message string) ErrorResponse { return ErrorResponse{Message: message} }

// Amounts go out as fixed two-digit strings.

type OrderResponse struct {
	ID                  string     `json:"id"`
	CustomerID          string     `json:"customer_id"`
	ContractorID        string     `json:"contractor_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Budget              string     `json:"budget"`
	PlatformCommission  string     `json:"platform_commission"`
	PlatformFee         string     `json:"platform_fee"`
	ContractorFee       string     `json:"contractor_fee"`
	Address             string     `json:"address"`
	Phone               string     `json:"phone"`
	ScheduledDate       *time.Time `json:"scheduled_date,omitempty"`
	SpecialInstructions *string    `json:"special_instructions,omitempty"`
	EstimatedDuration   *int       `json:"estimated_duration,omitempty"`
	Status              string     `json:"status"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewOrderResponse reveals the full address and phone only to the
// contractor of an order that is under way, everyone else gets the masked ones.
func NewOrderResponse(o *models.PersonalizedOrder, viewer models.Actor) OrderResponse {
	address, phone := o.MaskedAddress, o.MaskedPhone
	if viewer.UserID == o.CustomerID || viewer.IsAdmin() ||
		(viewer.UserID == o.ContractorID && (o.Status == models.OrderStatusActive || o.Status == models.OrderStatusCompleted)) {
		address, phone = o.FullAddress, o.CustomerPhone
	}
	return OrderResponse{
		ID:                  o.ID.String(),
		CustomerID:          o.CustomerID.String(),
		ContractorID:        o.ContractorID.String(),
		Title:               o.Title,
		Description:         o.Description,
		Budget:              money.Format(o.Budget),
		PlatformCommission:  o.PlatformCommission.String(),
		PlatformFee:         money.Format(o.PlatformFee),
		ContractorFee:       money.Format(o.ContractorFee),
		Address:             address,
		Phone:               phone,
		ScheduledDate:       o.ScheduledDate,
		SpecialInstructions: o.SpecialInstructions,
		EstimatedDuration:   o.EstimatedDuration,
		Status:              o.Status,
		CompletedAt:         o.CompletedAt,
		ConfirmedAt:         o.ConfirmedAt,
		CancelledAt:         o.CancelledAt,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func NewOrderList(orders []models.PersonalizedOrder, viewer models.Actor) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, NewOrderResponse(&orders[i], viewer))
	}
	return out
}

type HoldResponse struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"personalized_order_id"`
	CustomerID      string     `json:"customer_id"`
	Amount          string     `json:"amount"`
	RefundedAmount  string     `json:"refunded_amount"`
	Status          string     `json:"status"`
	ConfirmationURL *string    `json:"confirmation_url,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewHoldResponse(h *models.PaymentHold) HoldResponse {
	return HoldResponse{
		ID:              h.ID.String(),
		OrderID:         h.PersonalizedOrderID.String(),
		CustomerID:      h.CustomerID.String(),
		Amount:          money.Format(h.Amount),
		RefundedAmount:  money.Format(h.RefundedAmount),
		Status:          h.Status,
		ConfirmationURL: h.ConfirmationURL,
		ExpiresAt:       h.ExpiresAt,
		ReleasedAt:      h.ReleasedAt,
		CancelledAt:     h.CancelledAt,
		ExpiredAt:       h.ExpiredAt,
		CreatedAt:       h.CreatedAt,
	}
}

type PayoutResponse struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"order_id"`
	Amount           string     `json:"amount"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	ExternalPayoutID *string    `json:"external_payout_id,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func NewPayoutResponse(p *models.Payout) PayoutResponse {
	return PayoutResponse{
		ID:               p.ID.String(),
		OrderID:          p.OrderID.String(),
		Amount:           money.Format(p.Amount),
		Status:           p.Status,
		RetryCount:       p.RetryCount,
		NextRetryAt:      p.NextRetryAt,
		ExternalPayoutID: p.ExternalPayoutID,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

type BalanceResponse struct {
	ContractorID string `json:"contractor_id"`
	Balance      string `json:"balance"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
}
