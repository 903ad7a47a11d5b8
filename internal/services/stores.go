package services

import (
	"context"
	"time"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Storage contracts consumed by the services. The pgx repositories
// implement them in production; tests use in-memory versions.

type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *models.PersonalizedOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PersonalizedOrder, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (bool, error)
	List(ctx context.Context, f repositories.OrderFilter) ([]models.PersonalizedOrder, error)
}

type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	GetOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invitation, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, reason *string, at time.Time) (bool, error)
	List(ctx context.Context, f repositories.InvitationFilter) ([]models.Invitation, error)
}

type HoldStore interface {
	Create(ctx context.Context, h *models.PaymentHold) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentHold, error)
	GetHeldByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error)
	GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error)
	MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (bool, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]models.PaymentHold, error)
	ListReleasedWithoutPayout(ctx context.Context, limit int) ([]models.PaymentHold, error)
	ListExpiredForOpenOrders(ctx context.Context, limit int) ([]models.PaymentHold, error)
	List(ctx context.Context, f repositories.HoldFilter) ([]models.PaymentHold, error)
}

type PayoutStore interface {
	CreateIfAbsent(ctx context.Context, p *models.Payout) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time, force bool) (bool, error)
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, externalID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, msg string, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, retryCount int, msg string, at time.Time) (bool, error)
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error)
	ListByContractor(ctx context.Context, contractorID uuid.UUID, limit, offset int) ([]models.Payout, error)
	SumSucceeded(ctx context.Context, contractorID uuid.UUID) (decimal.Decimal, error)
}

type TransactionStore interface {
	Append(ctx context.Context, t *models.Transaction) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

var (
	_ UserDirectory    = (*repositories.UserRepo)(nil)
	_ OrderStore       = (*repositories.OrderRepo)(nil)
	_ InvitationStore  = (*repositories.InvitationRepo)(nil)
	_ HoldStore        = (*repositories.HoldRepo)(nil)
	_ PayoutStore      = (*repositories.PayoutRepo)(nil)
	_ TransactionStore = (*repositories.TransactionRepo)(nil)
	_ AuditLogger      = (*repositories.AuditRepo)(nil)
)
