package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

const payoutColumns = `
	id, hold_id, order_id, contractor_id, amount, status, idempotency_key, retry_count,
	next_retry_at, external_payout_id, error_message, created_at, updated_at`

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	if err := row.Scan(&p.ID, &p.HoldID, &p.OrderID, &p.ContractorID, &p.Amount, &p.Status, &p.IdempotencyKey, &p.RetryCount,
		&p.NextRetryAt, &p.ExternalPayoutID, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateIfAbsent inserts p unless a payout with the same idempotency key
// exists. Either way p ends up holding the stored row; created reports
// whether this call wrote it.
func (r *PayoutRepo) CreateIfAbsent(ctx context.Context, p *models.Payout) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payouts (hold_id, order_id, contractor_id, amount, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at, updated_at
	`, p.HoldID, p.OrderID, p.ContractorID, p.Amount, p.Status, p.IdempotencyKey, p.CreatedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, wrap("create payout", err)
	}

	existing, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE idempotency_key = $1`, p.IdempotencyKey))
	if err != nil {
		return false, wrap("get payout by key", err)
	}
	*p = *existing
	return false, nil
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get payout", err)
	}
	return p, nil
}

// Claim moves a payout into PROCESSING if it is runnable: pending, failed
// and due (or force), or stuck in processing since before staleBefore.
func (r *PayoutRepo) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time, force bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = 'processing', updated_at = $2
		WHERE id = $1 AND (
			status = 'pending'
			OR (status = 'failed' AND ($4 OR next_retry_at IS NULL OR next_retry_at <= $2))
			OR (status = 'processing' AND updated_at < $3)
		)
	`, id, now, staleBefore, force)
	if err != nil {
		return false, wrap("claim payout", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetExternalID records the processor id of a payout still in flight.
func (r *PayoutRepo) SetExternalID(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payouts SET external_payout_id = $2, updated_at = $3 WHERE id = $1 AND status = 'processing'
	`, id, externalID, at)
	return wrap("set payout external id", err)
}

func (r *PayoutRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, externalID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = 'succeeded', external_payout_id = $2, error_message = NULL,
			next_retry_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, externalID, at)
	if err != nil {
		return false, wrap("mark payout succeeded", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PayoutRepo) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, msg string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = 'failed', retry_count = $2, next_retry_at = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'
	`, id, retryCount, nextRetryAt, msg, at)
	if err != nil {
		return false, wrap("mark payout failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PayoutRepo) MarkCancelled(ctx context.Context, id uuid.UUID, retryCount int, msg string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = 'cancelled', retry_count = $2, next_retry_at = NULL, error_message = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, id, retryCount, msg, at)
	if err != nil {
		return false, wrap("mark payout cancelled", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDue returns ids the sweep should run: due failures, pending rows
// whose queue entry was lost, and processing rows abandoned by a crash.
func (r *PayoutRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM payouts
		WHERE (status = 'failed' AND next_retry_at <= $1)
		   OR (status IN ('pending', 'processing') AND updated_at < $2)
		ORDER BY COALESCE(next_retry_at, updated_at)
		LIMIT $3
	`, now, staleBefore, limit)
	if err != nil {
		return nil, wrap("list due payouts", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PayoutRepo) ListByContractor(ctx context.Context, contractorID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+` FROM payouts WHERE contractor_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, contractorID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrap("list payouts", err)
	}
	defer rows.Close()

	var out []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, wrap("scan payout", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SumSucceeded is the contractor's paid-out balance.
func (r *PayoutRepo) SumSucceeded(ctx context.Context, contractorID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE contractor_id = $1 AND status = 'succeeded'
	`, contractorID).Scan(&total)
	if err != nil {
		return decimal.Zero, wrap("sum payouts", err)
	}
	return total, nil
}
