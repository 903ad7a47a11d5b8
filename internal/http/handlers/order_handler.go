package handlers

import (
	"github.com/cleaninghouse/escrow/internal/http/dto"
	"github.com/cleaninghouse/escrow/internal/middleware"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orderService *services.OrderService
	log          *zap.Logger
}

func NewOrderHandler(orderService *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orderService: orderService, log: log}
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req dto.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	contractorID, budget, problem := req.Validate()
	if problem != "" {
		return badRequest(c, problem)
	}

	actor := middleware.GetActor(c)
	order, err := h.orderService.Create(c.Context(), actor, services.CreateOrderInput{
		ContractorID:        contractorID,
		Title:               req.Title,
		Description:         req.Description,
		Budget:              budget,
		Address:             req.Address,
		Phone:               req.Phone,
		ScheduledDate:       req.ScheduledDate,
		SpecialInstructions: req.SpecialInstructions,
		EstimatedDuration:   req.EstimatedDuration,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}

	actor := middleware.GetActor(c)
	order, err := h.orderService.Get(c.Context(), actor, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *OrderHandler) GetOrderHistory(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	limit, offset := pagination(c)
	history, err := h.orderService.History(c.Context(), middleware.GetActor(c), id, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if history == nil {
		history = []models.AuditLog{}
	}
	return c.JSON(dto.OK(history))
}

func (h *OrderHandler) list(c *fiber.Ctx, f repositories.OrderFilter) error {
	f.Limit, f.Offset = pagination(c)
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	orders, err := h.orderService.List(c.Context(), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderList(orders, middleware.GetActor(c))))
}

func (h *OrderHandler) ListCustomerOrders(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	return h.list(c, repositories.OrderFilter{CustomerID: &userID})
}

func (h *OrderHandler) ListContractorOrders(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	return h.list(c, repositories.OrderFilter{ContractorID: &userID})
}

func (h *OrderHandler) CompleteOrder(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	actor := middleware.GetActor(c)
	order, err := h.orderService.Complete(c.Context(), actor, id)
	return h.respond(c, actor, order, err)
}

func (h *OrderHandler) ConfirmOrder(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	actor := middleware.GetActor(c)
	order, err := h.orderService.Confirm(c.Context(), actor, id)
	return h.respond(c, actor, order, err)
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	actor := middleware.GetActor(c)
	order, err := h.orderService.Cancel(c.Context(), actor, id)
	return h.respond(c, actor, order, err)
}

func (h *OrderHandler) respond(c *fiber.Ctx, actor models.Actor, order *models.PersonalizedOrder, err error) error {
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}
