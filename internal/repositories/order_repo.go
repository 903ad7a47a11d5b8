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
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `
	id, customer_id, contractor_id, title, description, budget, platform_commission,
	platform_fee, contractor_fee, full_address, masked_address, customer_phone, masked_phone,
	scheduled_date, special_instructions, estimated_duration, status,
	completed_at, confirmed_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.PersonalizedOrder, error) {
	var o models.PersonalizedOrder
	err := row.Scan(&o.ID, &o.CustomerID, &o.ContractorID, &o.Title, &o.Description, &o.Budget, &o.PlatformCommission,
		&o.PlatformFee, &o.ContractorFee, &o.FullAddress, &o.MaskedAddress, &o.CustomerPhone, &o.MaskedPhone,
		&o.ScheduledDate, &o.SpecialInstructions, &o.EstimatedDuration, &o.Status,
		&o.CompletedAt, &o.ConfirmedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) Create(ctx context.Context, o *models.PersonalizedOrder) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO personalized_orders (
			customer_id, contractor_id, title, description, budget, platform_commission,
			platform_fee, contractor_fee, full_address, masked_address, customer_phone, masked_phone,
			scheduled_date, special_instructions, estimated_duration, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING id, created_at, updated_at
	`, o.CustomerID, o.ContractorID, o.Title, o.Description, o.Budget, o.PlatformCommission,
		o.PlatformFee, o.ContractorFee, o.FullAddress, o.MaskedAddress, o.CustomerPhone, o.MaskedPhone,
		o.ScheduledDate, o.SpecialInstructions, o.EstimatedDuration, o.Status, o.CreatedAt,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return wrap("create order", err)
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PersonalizedOrder, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM personalized_orders WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get order", err)
	}
	return o, nil
}

// TransitionStatus is a compare-and-set on status; false means the row
// was no longer in `from`.
func (r *OrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE personalized_orders SET
			status = $3::text,
			updated_at = $4,
			completed_at = CASE WHEN $3::text = 'completed' THEN $4 ELSE completed_at END,
			confirmed_at = CASE WHEN $3::text = 'confirmed' THEN $4 ELSE confirmed_at END,
			cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = $2
	`, id, from, to, at)
	if err != nil {
		return false, wrap("transition order", err)
	}
	return tag.RowsAffected() == 1, nil
}

type OrderFilter struct {
	CustomerID   *uuid.UUID
	ContractorID *uuid.UUID
	Status       *string
	Limit        int
	Offset       int
}

func (r *OrderRepo) List(ctx context.Context, f OrderFilter) ([]models.PersonalizedOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM personalized_orders`
	args := []any{}
	where := []string{}

	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.ContractorID != nil {
		args = append(args, *f.ContractorID)
		where = append(where, fmt.Sprintf("contractor_id = $%d", len(args)))
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
		return nil, wrap("list orders", err)
	}
	defer rows.Close()

	var orders []models.PersonalizedOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, wrap("scan order", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
