package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("create order: %w", services.ErrValidation), fiber.StatusBadRequest},
		{"amount", money.ErrInvalidAmount, fiber.StatusBadRequest},
		{"forbidden", services.ErrNotAuthorized, fiber.StatusForbidden},
		{"hold not found", services.ErrHoldNotFound, fiber.StatusNotFound},
		{"state", services.ErrInvalidStateTransition, fiber.StatusConflict},
		{"hold state", services.ErrInvalidHoldTransition, fiber.StatusConflict},
		{"duplicate hold", services.ErrDuplicateHold, fiber.StatusConflict},
		{"duplicate invitation", services.ErrDuplicateInvitation, fiber.StatusConflict},
		{"retries", services.ErrMaxRetriesExceeded, fiber.StatusConflict},
		{"busy", services.ErrBusy, fiber.StatusConflict},
		{"gateway", fmt.Errorf("release: %w", &gateway.Error{Op: gateway.OpCaptureHold, StatusCode: 500, Cause: errors.New("boom")}), fiber.StatusBadGateway},
		{"refund not recorded", fmt.Errorf("hold x: %w", services.ErrRefundNotRecorded), fiber.StatusInternalServerError},
		{"other", errors.New("connection reset"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
