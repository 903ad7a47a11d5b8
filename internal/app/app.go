// Package app wires stores, gateway and services for the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/db"
	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/locks"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/cleaninghouse/escrow/internal/services"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Publisher  events.Publisher
	Subscriber events.Subscriber
	Locker     locks.Locker
	Gateway    gateway.Client

	Users *repositories.UserRepo

	Ledger      *services.HoldLedger
	Payouts     *services.PayoutEngine
	Orders      *services.OrderService
	Invitations *services.InvitationService
}

// New connects to postgres and redis and builds the service graph.
// Migrations are not applied here.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{
		Pool:       pool,
		Redis:      rdb,
		Publisher:  events.NewRedisPublisher(rdb, log),
		Subscriber: events.NewRedisSubscriber(rdb, log),
		Locker:     locks.NewRedisLocker(rdb, cfg.OrderLockWait),
		Gateway:    NewGateway(cfg, log),
	}

	// Repositories
	a.Users = repositories.NewUserRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	invitationRepo := repositories.NewInvitationRepo(pool)
	holdRepo := repositories.NewHoldRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)
	txnRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	notifier := services.NewEventNotifier(a.Publisher, log)
	a.Ledger = services.NewHoldLedger(holdRepo, orderRepo, txnRepo, auditRepo, a.Gateway, notifier, a.Publisher, cfg.HoldTTL, cfg.SweepBatchSize, log)
	a.Payouts = services.NewPayoutEngine(payoutRepo, a.Users, txnRepo, auditRepo, a.Gateway, notifier, a.Publisher, services.PayoutEngineOptions{
		Workers:    cfg.PayoutWorkers,
		QueueSize:  cfg.PayoutQueueSize,
		StaleAfter: cfg.PayoutStaleAfter,
		BatchSize:  cfg.SweepBatchSize,
	}, log)
	a.Orders = services.NewOrderService(orderRepo, invitationRepo, a.Users, auditRepo, a.Ledger, a.Payouts, a.Locker, cfg.OrderLockTTL, notifier, a.Publisher, cfg.SweepBatchSize, log)
	a.Invitations = services.NewInvitationService(invitationRepo, auditRepo, a.Orders, a.Ledger, notifier, a.Publisher, log)

	return a, nil
}

// NewGateway picks the sandbox when PAYMENT_GATEWAY_MOCK is set.
func NewGateway(cfg *config.Config, log *zap.Logger) gateway.Client {
	if cfg.GatewayMock {
		return gateway.NewSandbox(log)
	}
	return gateway.NewYooKassa(gateway.Options{
		BaseURL:   cfg.GatewayBaseURL,
		ShopID:    cfg.GatewayShopID,
		SecretKey: cfg.GatewaySecretKey,
		Currency:  cfg.GatewayCurrency,
		ReturnURL: cfg.GatewayReturnURL,
		Timeout:   cfg.GatewayTimeout,
	}, log)
}

// Migrate applies pending migrations from MIGRATIONS_DIR or the embedded set.
func (a *App) Migrate(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	return db.RunMigrations(ctx, a.Pool, db.MigrationSource(cfg.MigrationsDir), log)
}

func (a *App) Close() {
	_ = a.Redis.Close()
	a.Pool.Close()
}
