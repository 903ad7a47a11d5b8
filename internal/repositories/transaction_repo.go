package repositories

import (
	"context"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepo is append-only: there is no update or delete.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Append(ctx context.Context, t *models.Transaction) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO transactions (user_id, order_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.UserID, t.OrderID, t.Type, t.Amount, t.Description, t.CreatedAt).Scan(&t.ID)
	return wrap("append transaction", err)
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, order_id, type, amount, description, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, pageLimit(limit), offset)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, wrap("scan transaction", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
