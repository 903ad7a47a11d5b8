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

type InvitationRepo struct {
	pool *pgxpool.Pool
}

func NewInvitationRepo(pool *pgxpool.Pool) *InvitationRepo {
	return &InvitationRepo{pool: pool}
}

const invitationColumns = `id, customer_id, contractor_id, personalized_order_id, message, rejection_reason, status, created_at, updated_at`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	if err := row.Scan(&inv.ID, &inv.CustomerID, &inv.ContractorID, &inv.PersonalizedOrderID,
		&inv.Message, &inv.RejectionReason, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create fails with ErrDuplicate when the order already has an open invitation.
func (r *InvitationRepo) Create(ctx context.Context, inv *models.Invitation) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invitations (customer_id, contractor_id, personalized_order_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, updated_at
	`, inv.CustomerID, inv.ContractorID, inv.PersonalizedOrderID, inv.Message, inv.Status, inv.CreatedAt,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	return wrap("create invitation", err)
}

func (r *InvitationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	inv, err := scanInvitation(r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if err != nil {
		return nil, wrap("get invitation", err)
	}
	return inv, nil
}

// GetOpenByOrder returns the pending or accepted invitation of an order.
func (r *InvitationRepo) GetOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invitation, error) {
	inv, err := scanInvitation(r.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE personalized_order_id = $1 AND status IN ('pending', 'accepted')
	`, orderID))
	if err != nil {
		return nil, wrap("get open invitation", err)
	}
	return inv, nil
}

func (r *InvitationRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, reason *string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invitations SET status = $3, rejection_reason = COALESCE($4, rejection_reason), updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, from, to, reason, at)
	if err != nil {
		return false, wrap("transition invitation", err)
	}
	return tag.RowsAffected() == 1, nil
}

type InvitationFilter struct {
	CustomerID   *uuid.UUID
	ContractorID *uuid.UUID
	OrderID      *uuid.UUID
	Status       *string
	Limit        int
	Offset       int
}

func (r *InvitationRepo) List(ctx context.Context, f InvitationFilter) ([]models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations`
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
		return nil, wrap("list invitations", err)
	}
	defer rows.Close()

	var out []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, wrap("scan invitation", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}
