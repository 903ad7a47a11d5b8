package repositories

import (
	"context"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, role, contractor_tier, full_name, phone, payout_token, created_at`

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (role, contractor_tier, full_name, phone, payout_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, u.Role, u.ContractorTier, u.FullName, u.Phone, u.PayoutToken).Scan(&u.ID, &u.CreatedAt)
	return wrap("create user", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Role, &u.ContractorTier, &u.FullName, &u.Phone, &u.PayoutToken, &u.CreatedAt)
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

func (r *UserRepo) SetPayoutToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET payout_token = $1 WHERE id = $2`, token, id)
	if err != nil {
		return wrap("set payout token", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("set payout token", ErrNotFound)
	}
	return nil
}
