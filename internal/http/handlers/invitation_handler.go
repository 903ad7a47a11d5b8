package handlers

import (
	"github.com/cleaninghouse/escrow/internal/http/dto"
	"github.com/cleaninghouse/escrow/internal/middleware"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InvitationHandler struct {
	invitationService *services.InvitationService
	log               *zap.Logger
}

func NewInvitationHandler(invitationService *services.InvitationService, log *zap.Logger) *InvitationHandler {
	return &InvitationHandler{invitationService: invitationService, log: log}
}

func (h *InvitationHandler) CreateInvitation(c *fiber.Ctx) error {
	var req dto.CreateInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if problem := dto.Check(&req); problem != "" {
		return badRequest(c, problem)
	}

	inv, err := h.invitationService.Create(c.Context(), middleware.GetActor(c), services.CreateInvitationInput{
		ContractorID: uuid.MustParse(req.ContractorID),
		OrderID:      uuid.MustParse(req.PersonalizedOrderID),
		Message:      req.Message,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.OK(inv))
}

func (h *InvitationHandler) list(c *fiber.Ctx, f repositories.InvitationFilter) error {
	f.Limit, f.Offset = pagination(c)
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	invs, err := h.invitationService.List(c.Context(), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if invs == nil {
		invs = []models.Invitation{}
	}
	return c.JSON(dto.OK(invs))
}

func (h *InvitationHandler) ListCustomerInvitations(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	return h.list(c, repositories.InvitationFilter{CustomerID: &userID})
}

func (h *InvitationHandler) ListContractorInvitations(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	return h.list(c, repositories.InvitationFilter{ContractorID: &userID})
}

func (h *InvitationHandler) AcceptInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	inv, err := h.invitationService.Accept(c.Context(), middleware.GetActor(c), id)
	return h.respond(c, inv, err)
}

func (h *InvitationHandler) RejectInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	var req dto.RejectInvitationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	if problem := dto.Check(&req); problem != "" {
		return badRequest(c, problem)
	}
	inv, err := h.invitationService.Reject(c.Context(), middleware.GetActor(c), id, req.RejectionReason)
	return h.respond(c, inv, err)
}

func (h *InvitationHandler) CancelInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	inv, err := h.invitationService.Cancel(c.Context(), middleware.GetActor(c), id)
	return h.respond(c, inv, err)
}

func (h *InvitationHandler) DeclineInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	inv, err := h.invitationService.Decline(c.Context(), middleware.GetActor(c), id)
	return h.respond(c, inv, err)
}

func (h *InvitationHandler) CompleteInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	actor := middleware.GetActor(c)
	order, err := h.invitationService.Complete(c.Context(), actor, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *InvitationHandler) ConfirmInvitation(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid invitation id")
	}
	actor := middleware.GetActor(c)
	order, err := h.invitationService.Confirm(c.Context(), actor, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(dto.NewOrderResponse(order, actor)))
}

func (h *InvitationHandler) respond(c *fiber.Ctx, inv *models.Invitation, err error) error {
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.OK(inv))
}
