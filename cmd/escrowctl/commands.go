package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cleaninghouse/escrow/internal/app"
	"github.com/cleaninghouse/escrow/internal/auth"
	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/db"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				versions, err := db.PendingMigrations(db.MigrationSource(config.Load().MigrationsDir))
				if err != nil {
					return fmt.Errorf("read migrations: %w", err)
				}
				for _, v := range versions {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, cfg *config.Config, a *app.App, log *zap.Logger) error {
				return a.Migrate(ctx, cfg, log)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list migration versions without touching the database")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for local testing",
		Example: `  escrowctl token --user-id 6f1c... --role customer
  escrowctl token --user-id 6f1c... --role admin --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user-id: %w", err)
			}
			switch role {
			case models.RoleCustomer, models.RoleContractor, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.JWTExpiration
			}
			tok, err := auth.GenerateJWT(cfg.JWTSecret, id, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", models.RoleCustomer, "customer, contractor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_EXPIRATION_HOURS)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func holdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holds",
		Short: "Payment hold maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Expire overdue holds and cancel their orders now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, _ *config.Config, a *app.App, _ *zap.Logger) error {
				n, err := a.Orders.SweepExpiredHolds(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d holds\n", n)
				return nil
			})
		},
	})
	return cmd
}

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Contractor payout maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Create missing payouts and retry due ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, _ *config.Config, a *app.App, _ *zap.Logger) error {
				created, err := a.Orders.ReconcilePayouts(ctx)
				if err != nil {
					return err
				}
				n, err := a.Payouts.RetryDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d, retried %d\n", created, n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry-one [payout-id]",
		Short: "Retry a single payout regardless of its backoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payout id: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, _ *config.Config, a *app.App, _ *zap.Logger) error {
				p, err := a.Payouts.RetryPayout(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s retries=%d\n", p.ID, p.Status, money.Format(p.Amount), p.RetryCount)
				return nil
			})
		},
	})
	return cmd
}
