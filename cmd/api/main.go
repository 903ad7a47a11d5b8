package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cleaninghouse/escrow/internal/app"
	"github.com/cleaninghouse/escrow/internal/config"
	apphttp "github.com/cleaninghouse/escrow/internal/http"
	"github.com/cleaninghouse/escrow/internal/http/dto"
	"github.com/cleaninghouse/escrow/internal/http/handlers"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// Run migrations
	if err := a.Migrate(ctx, cfg, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Payouts created by confirm are processed in-process; the worker sweeps the rest
	go a.Payouts.Run(ctx)

	// Handlers
	orderHandler := handlers.NewOrderHandler(a.Orders, log)
	invitationHandler := handlers.NewInvitationHandler(a.Invitations, log)
	paymentHandler := handlers.NewPaymentHandler(a.Ledger, a.Payouts, a.Orders, log)
	wsHub := handlers.NewWSHub(cfg, a.Subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.Fail(err.Error()))
		},
	})

	apphttp.SetupRouter(fiberApp, cfg, log, a.Redis, orderHandler, invitationHandler, paymentHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = fiberApp.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.Bool("gateway_mock", cfg.GatewayMock))
	if err := fiberApp.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
