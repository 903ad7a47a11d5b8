package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type HoldRepo struct {
	pool *pgxpool.Pool
}

func NewHoldRepo(pool *pgxpool.Pool) *HoldRepo {
	return &HoldRepo{pool: pool}
}

const holdColumns = `
	id, personalized_order_id, customer_id, amount, refunded_amount, description, status,
	gateway_payment_id, confirmation_url, expires_at, released_at, cancelled_at, expired_at,
	created_at, updated_at`

func scanHold(row pgx.Row) (*models.PaymentHold, error) {
	var h models.PaymentHold
	if err := row.Scan(&h.ID, &h.PersonalizedOrderID, &h.CustomerID, &h.Amount, &h.RefundedAmount, &h.Description, &h.Status,
		&h.GatewayPaymentID, &h.ConfirmationURL, &h.ExpiresAt, &h.ReleasedAt, &h.CancelledAt, &h.ExpiredAt,
		&h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanHolds(rows pgx.Rows) ([]models.PaymentHold, error) {
	defer rows.Close()
	var out []models.PaymentHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, wrap("scan hold", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// Create fails with ErrDuplicate when the order already has a HELD hold
// (uq_payment_holds_held_per_order).
func (r *HoldRepo) Create(ctx context.Context, h *models.PaymentHold) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payment_holds (personalized_order_id, customer_id, amount, description, status,
			gateway_payment_id, confirmation_url, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, created_at, updated_at
	`, h.PersonalizedOrderID, h.CustomerID, h.Amount, h.Description, h.Status,
		h.GatewayPaymentID, h.ConfirmationURL, h.ExpiresAt, h.CreatedAt,
	).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	return wrap("create hold", err)
}

func (r *HoldRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentHold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx, `SELECT `+holdColumns+` FROM payment_holds WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get hold", err)
	}
	return h, nil
}

func (r *HoldRepo) GetHeldByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx, `
		SELECT `+holdColumns+` FROM payment_holds
		WHERE personalized_order_id = $1 AND status = 'held'
	`, orderID))
	if err != nil {
		return nil, wrap("get held hold", err)
	}
	return h, nil
}

func (r *HoldRepo) GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx, `
		SELECT `+holdColumns+` FROM payment_holds
		WHERE personalized_order_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, orderID))
	if err != nil {
		return nil, wrap("get latest hold", err)
	}
	return h, nil
}

func (r *HoldRepo) MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.leaveHeld(ctx, id, models.HoldStatusReleased, "released_at", at)
}

func (r *HoldRepo) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.leaveHeld(ctx, id, models.HoldStatusCancelled, "cancelled_at", at)
}

func (r *HoldRepo) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.leaveHeld(ctx, id, models.HoldStatusExpired, "expired_at", at)
}

// leaveHeld moves a hold out of HELD; column is one of the fixed timestamp names above.
func (r *HoldRepo) leaveHeld(ctx context.Context, id uuid.UUID, status, column string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE payment_holds SET status = $2, %s = $3, updated_at = $3
		WHERE id = $1 AND status = 'held'
	`, column), id, status, at)
	if err != nil {
		return false, wrap("mark hold "+status, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddRefund bumps refunded_amount unless it would exceed the captured amount.
func (r *HoldRepo) AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_holds SET refunded_amount = refunded_amount + $2, updated_at = $3
		WHERE id = $1 AND status = 'released' AND refunded_amount + $2 <= amount
	`, id, amount, at)
	if err != nil {
		return false, wrap("add refund", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *HoldRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]models.PaymentHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+` FROM payment_holds
		WHERE status = 'held' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, wrap("list expiring holds", err)
	}
	return scanHolds(rows)
}

// ListReleasedWithoutPayout finds captures whose payout row never got written.
// Only orders that reached COMPLETED or CONFIRMED qualify.
func (r *HoldRepo) ListReleasedWithoutPayout(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+` FROM payment_holds h
		WHERE h.status = 'released'
		  AND NOT EXISTS (SELECT 1 FROM payouts p WHERE p.hold_id = h.id)
		  AND EXISTS (
			SELECT 1 FROM personalized_orders o
			WHERE o.id = h.personalized_order_id AND o.status IN ('completed', 'confirmed')
		  )
		ORDER BY h.released_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrap("list unpaid holds", err)
	}
	return scanHolds(rows)
}

// ListExpiredForOpenOrders returns EXPIRED holds that are still the latest
// hold of an ACTIVE or COMPLETED order.
func (r *HoldRepo) ListExpiredForOpenOrders(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+` FROM payment_holds h
		WHERE h.status = 'expired'
		  AND NOT EXISTS (
			SELECT 1 FROM payment_holds n
			WHERE n.personalized_order_id = h.personalized_order_id AND n.created_at > h.created_at
		  )
		  AND EXISTS (
			SELECT 1 FROM personalized_orders o
			WHERE o.id = h.personalized_order_id AND o.status IN ('active', 'completed')
		  )
		ORDER BY h.expired_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrap("list expired holds of open orders", err)
	}
	return scanHolds(rows)
}

type HoldFilter struct {
	CustomerID *uuid.UUID
	OrderID    *uuid.UUID
	Status     *string
	Limit      int
	Offset     int
}

func (r *HoldRepo) List(ctx context.Context, f HoldFilter) ([]models.PaymentHold, error) {
	query := `SELECT ` + holdColumns + ` FROM payment_holds`
	args := []any{}
	where := []string{}

	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.OrderID != nil {
		args = append(args, *f.OrderID)
		where = append(where, fmt.Sprintf("personalized_order_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	args = append(args, pageLimit(f.Limit), f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list holds", err)
	}
	return scanHolds(rows)
}
