package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cleaninghouse/escrow/internal/auth"
	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/http/handlers"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// Handlers get nil services: every case here must be answered before the
// service layer is reached.
func newTestApp(t *testing.T, adminID uuid.UUID) *fiber.App {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{JWTSecret: testSecret, AdminUserIDs: []string{adminID.String()}}
	app := fiber.New()
	SetupRouter(app, cfg, log, nil,
		handlers.NewOrderHandler(nil, log),
		handlers.NewInvitationHandler(nil, log),
		handlers.NewPaymentHandler(nil, nil, nil, log),
		handlers.NewWSHub(cfg, nil, log),
	)
	return app
}

func token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestRouterGuards(t *testing.T) {
	adminID := uuid.New()
	app := newTestApp(t, adminID)

	customer := token(t, uuid.New(), models.RoleCustomer)
	contractor := token(t, uuid.New(), models.RoleContractor)
	promoted := token(t, adminID, models.RoleContractor)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"health is public", "GET", "/health", "", "", fiber.StatusOK},
		{"missing token", "GET", "/api/personalized-orders/customer", "", "", fiber.StatusUnauthorized},
		{"garbage token", "GET", "/api/personalized-orders/customer", "nope", "", fiber.StatusUnauthorized},
		{"contractor cannot create orders", "POST", "/api/personalized-orders", contractor, `{}`, fiber.StatusForbidden},
		{"customer cannot accept", "PUT", "/api/invitations/" + uuid.NewString() + "/accept", customer, "", fiber.StatusForbidden},
		{"customer listing is customer only", "GET", "/api/personalized-orders/customer", contractor, "", fiber.StatusForbidden},
		{"customer cannot refund", "POST", "/api/payment-holds/" + uuid.NewString() + "/refund", customer, "", fiber.StatusForbidden},
		{"customer cannot retry payouts", "POST", "/api/payments/payouts/retry", customer, "", fiber.StatusForbidden},
		{"bad order id", "GET", "/api/personalized-orders/not-a-uuid", customer, "", fiber.StatusBadRequest},
		{"bad invitation id", "PUT", "/api/invitations/42/accept", contractor, "", fiber.StatusBadRequest},
		{"invalid create body", "POST", "/api/personalized-orders", customer, `{"title":"Уборка"}`, fiber.StatusBadRequest},
		{"admin id promotes role", "POST", "/api/payment-holds/xyz/refund", promoted, "", fiber.StatusBadRequest},
		{"admin cannot complete", "PUT", "/api/personalized-orders/" + uuid.NewString() + "/complete", promoted, "", fiber.StatusForbidden},
		{"ws requires upgrade", "GET", "/ws", "", "", fiber.StatusUpgradeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.StatusCode >= 400 && resp.StatusCode != fiber.StatusUpgradeRequired {
				var env struct {
					Success bool   `json:"success"`
					Message string `json:"message"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if env.Success || env.Message == "" {
					t.Errorf("envelope = %+v", env)
				}
			}
		})
	}
}
