package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateInvitationInput struct {
	ContractorID uuid.UUID
	OrderID      uuid.UUID
	Message      *string
}

// InvitationService is the customer→contractor handshake in front of an
// order. Accepting it is what funds the order.
type InvitationService struct {
	invitations InvitationStore
	orders      *OrderService
	ledger      *HoldLedger
	notifier    Notifier
	rec         recorder
	log         *zap.Logger
	now         func() time.Time
}

func NewInvitationService(
	invitations InvitationStore,
	audit AuditLogger,
	orders *OrderService,
	ledger *HoldLedger,
	notifier Notifier,
	publisher events.Publisher,
	log *zap.Logger,
) *InvitationService {
	return &InvitationService{
		invitations: invitations,
		orders:      orders,
		ledger:      ledger,
		notifier:    notifier,
		rec:         recorder{audit: audit, publisher: publisher, log: log},
		log:         log,
		now:         time.Now,
	}
}

func (s *InvitationService) Create(ctx context.Context, actor models.Actor, in CreateInvitationInput) (*models.Invitation, error) {
	if actor.Role != models.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers send invitations", ErrNotAuthorized)
	}
	if in.Message != nil {
		msg := strings.TrimSpace(*in.Message)
		if len(msg) > 2000 {
			return nil, validationf("message is too long")
		}
		in.Message = &msg
	}

	o, err := s.orders.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, notFound("order", err)
	}
	if o.CustomerID != actor.UserID {
		return nil, fmt.Errorf("%w: order %s belongs to another customer", ErrNotAuthorized, o.ID)
	}
	if o.ContractorID != in.ContractorID {
		return nil, validationf("order %s is addressed to another contractor", o.ID)
	}
	if o.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidStateTransition, o.ID, o.Status)
	}

	if _, err := s.invitations.GetOpenByOrder(ctx, o.ID); err == nil {
		return nil, ErrDuplicateInvitation
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	inv := &models.Invitation{
		CustomerID:          actor.UserID,
		ContractorID:        in.ContractorID,
		PersonalizedOrderID: o.ID,
		Message:             in.Message,
		Status:              models.InvitationStatusPending,
		CreatedAt:           s.now(),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateInvitation
		}
		return nil, err
	}

	s.rec.record(ctx, actor, models.EntityInvitation, inv.ID, "invitation_created", map[string]any{
		"order_id":      o.ID.String(),
		"contractor_id": in.ContractorID.String(),
	})
	s.notifier.Notify(ctx, in.ContractorID, events.EventInvitationReceived, map[string]any{
		"invitation_id": inv.ID.String(),
		"order_id":      o.ID.String(),
		"title":         o.Title,
		"budget":        money.Format(o.Budget),
	})
	return inv, nil
}

func (s *InvitationService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("invitation", err)
	}
	if !actor.IsAdmin() && inv.CustomerID != actor.UserID && inv.ContractorID != actor.UserID {
		return nil, fmt.Errorf("%w: not a party of invitation %s", ErrNotAuthorized, id)
	}
	return inv, nil
}

func (s *InvitationService) List(ctx context.Context, f repositories.InvitationFilter) ([]models.Invitation, error) {
	return s.invitations.List(ctx, f)
}

func (s *InvitationService) move(ctx context.Context, inv *models.Invitation, to string, reason *string, actor models.Actor) error {
	if !models.IsValidInvitationTransition(inv.Status, to) {
		return transitionErr("invitation", inv.Status, to)
	}
	from := inv.Status
	now := s.now()
	ok, err := s.invitations.TransitionStatus(ctx, inv.ID, from, to, reason, now)
	if err != nil {
		return err
	}
	if !ok {
		return transitionErr("invitation", from, to)
	}
	inv.Status = to
	inv.UpdatedAt = now
	if reason != nil {
		inv.RejectionReason = reason
	}

	meta := map[string]any{"old_status": from, "new_status": to}
	if reason != nil {
		meta["reason"] = *reason
	}
	s.rec.record(ctx, actor, models.EntityInvitation, inv.ID, fmt.Sprintf("invitation_status_%s_to_%s", from, to), meta)
	return nil
}

// Accept funds the order and activates it. Hold creation, the order move and
// the invitation move all happen under the order lock; if a later step
// fails the hold is cancelled again.
func (s *InvitationService) Accept(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("invitation", err)
	}
	if inv.ContractorID != actor.UserID {
		return nil, fmt.Errorf("%w: only the invited contractor can accept", ErrNotAuthorized)
	}

	var hold *models.PaymentHold
	err = s.orders.withOrderLock(ctx, inv.PersonalizedOrderID, func() error {
		inv, err = s.invitations.GetByID(ctx, id)
		if err != nil {
			return notFound("invitation", err)
		}
		if inv.Status != models.InvitationStatusPending {
			return transitionErr("invitation", inv.Status, models.InvitationStatusAccepted)
		}
		o, err := s.orders.orders.GetByID(ctx, inv.PersonalizedOrderID)
		if err != nil {
			return notFound("order", err)
		}
		if o.Status != models.OrderStatusPending {
			return transitionErr("order", o.Status, models.OrderStatusActive)
		}

		hold, err = s.ledger.CreateHold(ctx, o.ID, inv.CustomerID, o.Budget)
		if err != nil {
			return err
		}

		if err := s.move(ctx, inv, models.InvitationStatusAccepted, nil, actor); err != nil {
			s.compensate(ctx, o.ID, actor)
			return err
		}
		if err := s.orders.transition(ctx, o, models.OrderStatusActive, actor); err != nil {
			s.compensate(ctx, o.ID, actor)
			if moveErr := s.move(ctx, inv, models.InvitationStatusCancelled, nil, models.SystemActor); moveErr != nil {
				s.log.Error("revert accepted invitation", zap.String("invitation_id", inv.ID.String()), zap.Error(moveErr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, inv.CustomerID, events.EventInvitationAccepted, map[string]any{
		"invitation_id": inv.ID.String(),
		"order_id":      inv.PersonalizedOrderID.String(),
		"hold_id":       hold.ID.String(),
	})
	return inv, nil
}

func (s *InvitationService) compensate(ctx context.Context, orderID uuid.UUID, actor models.Actor) {
	if _, err := s.ledger.CancelHold(ctx, orderID, actor); err != nil {
		s.log.Error("compensating hold cancel failed", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// Reject declines a pending invitation. The order stays PENDING.
func (s *InvitationService) Reject(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("invitation", err)
	}
	if inv.ContractorID != actor.UserID {
		return nil, fmt.Errorf("%w: only the invited contractor can reject", ErrNotAuthorized)
	}
	if inv.Status != models.InvitationStatusPending {
		return nil, transitionErr("invitation", inv.Status, models.InvitationStatusRejected)
	}

	var r *string
	if reason = strings.TrimSpace(reason); reason != "" {
		r = &reason
	}
	if err := s.move(ctx, inv, models.InvitationStatusRejected, r, actor); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, inv.CustomerID, events.EventInvitationRejected, map[string]any{
		"invitation_id":    inv.ID.String(),
		"order_id":         inv.PersonalizedOrderID.String(),
		"rejection_reason": reason,
	})
	return inv, nil
}

// Cancel withdraws a pending invitation on the customer's side.
func (s *InvitationService) Cancel(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("invitation", err)
	}
	if inv.CustomerID != actor.UserID {
		return nil, fmt.Errorf("%w: only the customer can cancel the invitation", ErrNotAuthorized)
	}
	if inv.Status != models.InvitationStatusPending {
		return nil, transitionErr("invitation", inv.Status, models.InvitationStatusCancelled)
	}
	if err := s.move(ctx, inv, models.InvitationStatusCancelled, nil, actor); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, inv.ContractorID, events.EventInvitationCancelled, map[string]any{
		"invitation_id": inv.ID.String(),
		"order_id":      inv.PersonalizedOrderID.String(),
	})
	return inv, nil
}

// Decline lets the contractor back out after accepting: the order and its
// hold are cancelled, which also closes the invitation.
func (s *InvitationService) Decline(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("invitation", err)
	}
	if inv.ContractorID != actor.UserID {
		return nil, fmt.Errorf("%w: only the invited contractor can decline", ErrNotAuthorized)
	}
	if inv.Status != models.InvitationStatusAccepted {
		return nil, transitionErr("invitation", inv.Status, models.InvitationStatusCancelled)
	}

	if _, err := s.orders.Cancel(ctx, actor, inv.PersonalizedOrderID); err != nil {
		return nil, err
	}
	return s.invitations.GetByID(ctx, id)
}

// Complete is the invitation-level shortcut for OrderService.Complete.
func (s *InvitationService) Complete(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.PersonalizedOrder, error) {
	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationStatusAccepted {
		return nil, fmt.Errorf("%w: invitation %s is %s", ErrInvalidStateTransition, inv.ID, inv.Status)
	}
	return s.orders.Complete(ctx, actor, inv.PersonalizedOrderID)
}

// Confirm is the invitation-level shortcut for OrderService.Confirm.
func (s *InvitationService) Confirm(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.PersonalizedOrder, error) {
	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationStatusAccepted {
		return nil, fmt.Errorf("%w: invitation %s is %s", ErrInvalidStateTransition, inv.ID, inv.Status)
	}
	return s.orders.Confirm(ctx, actor, inv.PersonalizedOrderID)
}
