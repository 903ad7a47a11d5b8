package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleaninghouse/escrow/internal/app"
	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/locks"
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

	go a.Payouts.Run(ctx)

	log.Info("worker started",
		zap.Duration("hold_sweep", cfg.HoldSweepInterval),
		zap.Duration("payout_sweep", cfg.PayoutSweepInterval),
	)

	// Run jobs on tickers
	holdTicker := time.NewTicker(cfg.HoldSweepInterval)
	payoutTicker := time.NewTicker(cfg.PayoutSweepInterval)
	defer holdTicker.Stop()
	defer payoutTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-holdTicker.C:
			singleton(ctx, a.Locker, "hold-expiry", cfg.HoldSweepInterval, log, func(ctx context.Context) {
				runHoldExpiry(ctx, a, log)
			})
		case <-payoutTicker.C:
			singleton(ctx, a.Locker, "payout-retry", cfg.PayoutSweepInterval, log, func(ctx context.Context) {
				runPayoutSweep(ctx, a, log)
			})
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// singleton runs job on at most one worker replica per tick.
func singleton(ctx context.Context, locker locks.Locker, job string, ttl time.Duration, log *zap.Logger, fn func(context.Context)) {
	unlock, err := locker.TryLock(ctx, locks.SweepKey(job), ttl)
	if err != nil {
		if !errors.Is(err, locks.ErrNotAcquired) {
			log.Warn("sweep lock failed", zap.String("job", job), zap.Error(err))
		}
		return
	}
	defer unlock()
	fn(ctx)
}

func runHoldExpiry(ctx context.Context, a *app.App, log *zap.Logger) {
	n, err := a.Orders.SweepExpiredHolds(ctx)
	if err != nil {
		log.Error("hold expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired payment holds", zap.Int("count", n))
	}
}

func runPayoutSweep(ctx context.Context, a *app.App, log *zap.Logger) {
	// released holds without a payout first, so they are retried in the same pass
	created, err := a.Orders.ReconcilePayouts(ctx)
	if err != nil {
		log.Error("payout reconcile failed", zap.Error(err))
	} else if created > 0 {
		log.Info("created missing payouts", zap.Int("count", created))
	}

	n, err := a.Payouts.RetryDue(ctx)
	if err != nil {
		log.Error("payout retry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("payouts retried", zap.Int("count", n))
	}
}
