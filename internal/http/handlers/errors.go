package handlers

import (
	"errors"
	"strconv"

	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/http/dto"
	"github.com/cleaninghouse/escrow/internal/middleware"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statusFor maps service errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, money.ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidStateTransition),
		errors.Is(err, services.ErrInvalidHoldTransition),
		errors.Is(err, services.ErrDuplicateHold),
		errors.Is(err, services.ErrDuplicateInvitation),
		errors.Is(err, services.ErrMaxRetriesExceeded),
		errors.Is(err, services.ErrBusy):
		return fiber.StatusConflict
	case gateway.IsError(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	msg := err.Error()
	reqID := middleware.GetRequestID(c)

	switch {
	case status == fiber.StatusInternalServerError:
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		msg = "internal error"
	case status == fiber.StatusBadGateway:
		log.Warn("payment gateway failure", zap.String("request_id", reqID), zap.Error(err))
		msg = "payment provider error, try again later"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Message: msg, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.Fail(msg))
}

func parseID(c *fiber.Ctx, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(param))
	return id, err == nil
}

func pagination(c *fiber.Ctx) (int, int) {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
