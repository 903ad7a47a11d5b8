package http

import (
	"time"

	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/http/handlers"
	"github.com/cleaninghouse/escrow/internal/middleware"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb redis.UniversalClient,
	orderHandler *handlers.OrderHandler,
	invitationHandler *handlers.InvitationHandler,
	paymentHandler *handlers.PaymentHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute))

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Personalized orders
	orders := protected.Group("/personalized-orders")
	orders.Post("/", middleware.RequirePermission(rbac.PermCreateOrder), orderHandler.CreateOrder)
	orders.Get("/customer", middleware.RequireRole(models.RoleCustomer), orderHandler.ListCustomerOrders)
	orders.Get("/contractor", middleware.RequireRole(models.RoleContractor), orderHandler.ListContractorOrders)
	orders.Get("/:id", orderHandler.GetOrder)
	orders.Get("/:id/history", orderHandler.GetOrderHistory)
	orders.Put("/:id/complete", middleware.RequirePermission(rbac.PermCompleteOrder), orderHandler.CompleteOrder)
	orders.Put("/:id/confirm", middleware.RequirePermission(rbac.PermConfirmOrder), orderHandler.ConfirmOrder)
	orders.Put("/:id/cancel", middleware.RequirePermission(rbac.PermCancelOrder), orderHandler.CancelOrder)

	// Invitations
	inv := protected.Group("/invitations")
	inv.Post("/", middleware.RequirePermission(rbac.PermInvite), invitationHandler.CreateInvitation)
	inv.Get("/customer", middleware.RequireRole(models.RoleCustomer), invitationHandler.ListCustomerInvitations)
	inv.Get("/contractor", middleware.RequireRole(models.RoleContractor), invitationHandler.ListContractorInvitations)
	inv.Put("/:id/accept", middleware.RequirePermission(rbac.PermRespondInvitation), invitationHandler.AcceptInvitation)
	inv.Put("/:id/reject", middleware.RequirePermission(rbac.PermRespondInvitation), invitationHandler.RejectInvitation)
	inv.Put("/:id/cancel", middleware.RequirePermission(rbac.PermInvite), invitationHandler.CancelInvitation)
	inv.Put("/:id/decline", middleware.RequirePermission(rbac.PermRespondInvitation), invitationHandler.DeclineInvitation)
	inv.Put("/:id/complete", middleware.RequirePermission(rbac.PermCompleteOrder), invitationHandler.CompleteInvitation)
	inv.Put("/:id/confirm", middleware.RequirePermission(rbac.PermConfirmOrder), invitationHandler.ConfirmInvitation)

	// Payment holds
	holds := protected.Group("/payment-holds")
	holds.Get("/", paymentHandler.ListHolds)
	holds.Get("/:orderId", paymentHandler.GetHold)
	holds.Put("/:orderId/release", middleware.RequirePermission(rbac.PermManageHolds), paymentHandler.ReleaseHold)
	holds.Put("/:orderId/cancel", middleware.RequirePermission(rbac.PermManageHolds), paymentHandler.CancelHold)
	holds.Post("/:orderId/refund", middleware.RequirePermission(rbac.PermManageHolds), paymentHandler.RefundHold)

	// Payouts
	payments := protected.Group("/payments")
	payments.Post("/payouts/retry", middleware.RequirePermission(rbac.PermManagePayouts), paymentHandler.RetryPayouts)
	payments.Post("/payouts/:id/retry", middleware.RequirePermission(rbac.PermManagePayouts), paymentHandler.RetryPayout)
	payments.Get("/payouts", paymentHandler.ListPayouts)
	payments.Get("/balance", paymentHandler.GetBalance)
	payments.Get("/transactions", paymentHandler.ListTransactions)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
