package handlers

import (
	"github.com/cleaninghouse/escrow/internal/http/dto"
	"github.com/cleaninghouse/escrow/internal/middleware"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentHandler exposes holds, payouts and the contractor ledger.
// Hold release/cancel go through the order state machine so order and hold
// never disagree.
type PaymentHandler struct {
	ledger       *services.HoldLedger
	payouts      *services.PayoutEngine
	orderService *services.OrderService
	log          *zap.Logger
}

func NewPaymentHandler(ledger *services.HoldLedger, payouts *services.PayoutEngine, orderService *services.OrderService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{ledger: ledger, payouts: payouts, orderService: orderService, log: log}
}

func (h *PaymentHandler) ListHolds(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	f := repositories.HoldFilter{}
	f.Limit, f.Offset = pagination(c)
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	if !actor.IsAdmin() {
		// не-админ видит только свои холды
		f.CustomerID = &actor.UserID
	} else if v := c.Query("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid customer_id")
		}
		f.CustomerID = &id
	}

	holds, err := h.ledger.List(c.Context(), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]dto.HoldResponse, 0, len(holds))
	for i := range holds {
		out = append(out, dto.NewHoldResponse(&holds[i]))
	}
	return c.JSON(dto.OK(out))
}

func (h *PaymentHandler) GetHold(c *fiber.Ctx) error {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	// participant check lives in OrderService.Get
	if _, err := h.orderService.Get(c.Context(), middleware.GetActor(c), orderID); err != nil {
		return respondError(c, h.log, err)
	}
	hold, err := h.ledger.GetByOrder(c.Context(), orderID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewHoldResponse(hold)))
}

func (h *PaymentHandler) ReleaseHold(c *fiber.Ctx) error {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	actor := middleware.GetActor(c)
	order, err := h.orderService.Confirm(c.Context(), actor, orderID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *PaymentHandler) CancelHold(c *fiber.Ctx) error {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	actor := middleware.GetActor(c)
	order, err := h.orderService.Cancel(c.Context(), actor, orderID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *PaymentHandler) RefundHold(c *fiber.Ctx) error {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	var req dto.RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	if problem := dto.Check(&req); problem != "" {
		return badRequest(c, problem)
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = money.Parse(req.Amount); err != nil {
			return badRequest(c, "amount must be a positive amount with at most 2 decimals")
		}
	}

	hold, err := h.orderService.Refund(c.Context(), middleware.GetActor(c), orderID, amount, req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewHoldResponse(hold)))
}

func (h *PaymentHandler) RetryPayouts(c *fiber.Ctx) error {
	n, err := h.payouts.RetryDue(c.Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.SweepResponse{Processed: n}))
}

func (h *PaymentHandler) RetryPayout(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid payout id")
	}
	p, err := h.payouts.RetryPayout(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewPayoutResponse(p)))
}

func (h *PaymentHandler) ListPayouts(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	payouts, err := h.payouts.ListPayouts(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]dto.PayoutResponse, 0, len(payouts))
	for i := range payouts {
		out = append(out, dto.NewPayoutResponse(&payouts[i]))
	}
	return c.JSON(dto.OK(out))
}

func (h *PaymentHandler) GetBalance(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	balance, err := h.payouts.Balance(c.Context(), userID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.BalanceResponse{ContractorID: userID.String(), Balance: money.Format(balance)}))
}

func (h *PaymentHandler) ListTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txns, err := h.payouts.Transactions(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return c.JSON(dto.OK(txns))
}
