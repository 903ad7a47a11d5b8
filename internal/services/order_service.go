package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/locks"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateOrderInput struct {
	ContractorID        uuid.UUID
	Title               string
	Description         string
	Budget              decimal.Decimal
	Address             string
	Phone               string
	ScheduledDate       *time.Time
	SpecialInstructions *string
	EstimatedDuration   *int
}

// OrderService drives the personalized order state machine and the money
// movements tied to it. Every transition runs under the order lock and
// re-reads the order once the lock is held.
type OrderService struct {
	orders      OrderStore
	invitations InvitationStore
	users       UserDirectory
	ledger      *HoldLedger
	payouts     *PayoutEngine
	locker      locks.Locker
	lockTTL     time.Duration
	notifier    Notifier
	rec         recorder
	batch       int
	log         *zap.Logger
	now         func() time.Time
}

func NewOrderService(
	orders OrderStore,
	invitations InvitationStore,
	users UserDirectory,
	audit AuditLogger,
	ledger *HoldLedger,
	payouts *PayoutEngine,
	locker locks.Locker,
	lockTTL time.Duration,
	notifier Notifier,
	publisher events.Publisher,
	batch int,
	log *zap.Logger,
) *OrderService {
	if batch <= 0 {
		batch = 100
	}
	return &OrderService{
		orders:      orders,
		invitations: invitations,
		users:       users,
		ledger:      ledger,
		payouts:     payouts,
		locker:      locker,
		lockTTL:     lockTTL,
		notifier:    notifier,
		rec:         recorder{audit: audit, publisher: publisher, log: log},
		batch:       batch,
		log:         log,
		now:         time.Now,
	}
}

// withOrderLock runs fn while holding the distributed lock of orderID.
func (s *OrderService) withOrderLock(ctx context.Context, orderID uuid.UUID, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, locks.OrderKey(orderID), s.lockTTL)
	if errors.Is(err, locks.ErrNotAcquired) {
		return ErrBusy
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	defer unlock()
	return fn()
}

// Create opens a PENDING order from customer to a specific contractor.
func (s *OrderService) Create(ctx context.Context, actor models.Actor, in CreateOrderInput) (*models.PersonalizedOrder, error) {
	if actor.Role != models.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers create orders", ErrNotAuthorized)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title is required")
	}
	if strings.TrimSpace(in.Address) == "" {
		return nil, validationf("address is required")
	}
	if err := money.Validate(in.Budget); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if in.EstimatedDuration != nil && *in.EstimatedDuration <= 0 {
		return nil, validationf("estimated duration must be positive")
	}

	customer, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, notFound("customer", err)
	}
	if customer.Role != models.RoleCustomer {
		return nil, fmt.Errorf("%w: user %s is not a customer", ErrNotAuthorized, customer.ID)
	}
	contractor, err := s.users.GetByID(ctx, in.ContractorID)
	if err != nil {
		return nil, notFound("contractor", err)
	}
	if contractor.Role != models.RoleContractor {
		return nil, validationf("user %s is not a contractor", contractor.ID)
	}

	rate := money.CommissionRate(contractor.Tier())
	platformFee, contractorFee := money.Split(in.Budget, rate)

	phone := in.Phone
	if phone == "" && customer.Phone != nil {
		phone = *customer.Phone
	}

	o := &models.PersonalizedOrder{
		CustomerID:          customer.ID,
		ContractorID:        contractor.ID,
		Title:               title,
		Description:         in.Description,
		Budget:              in.Budget,
		PlatformCommission:  rate,
		PlatformFee:         platformFee,
		ContractorFee:       contractorFee,
		FullAddress:         in.Address,
		MaskedAddress:       maskAddress(in.Address),
		CustomerPhone:       phone,
		MaskedPhone:         maskPhone(phone),
		ScheduledDate:       in.ScheduledDate,
		SpecialInstructions: in.SpecialInstructions,
		EstimatedDuration:   in.EstimatedDuration,
		Status:              models.OrderStatusPending,
		CreatedAt:           s.now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.rec.record(ctx, actor, models.EntityOrder, o.ID, "order_created", map[string]any{
		"contractor_id":  contractor.ID.String(),
		"budget":         money.Format(o.Budget),
		"platform_fee":   money.Format(o.PlatformFee),
		"contractor_fee": money.Format(o.ContractorFee),
	})
	s.log.Info("personalized order created",
		zap.String("order_id", o.ID.String()),
		zap.String("budget", money.Format(o.Budget)),
	)
	return o, nil
}

// Get returns the order to its participants and admins.
func (s *OrderService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.PersonalizedOrder, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("order", err)
	}
	if !actor.IsAdmin() && !o.IsParticipant(actor.UserID) {
		return nil, fmt.Errorf("%w: not a participant of order %s", ErrNotAuthorized, id)
	}
	return o, nil
}

func (s *OrderService) List(ctx context.Context, f repositories.OrderFilter) ([]models.PersonalizedOrder, error) {
	return s.orders.List(ctx, f)
}

// History returns the order's audit trail, newest first.
func (s *OrderService) History(ctx context.Context, actor models.Actor, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.rec.audit.GetByEntity(ctx, models.EntityOrder, id, limit, offset)
}

// transition does the CAS write plus audit. The caller holds the order lock.
func (s *OrderService) transition(ctx context.Context, o *models.PersonalizedOrder, to string, actor models.Actor) error {
	if !models.IsValidOrderTransition(o.Status, to) {
		return transitionErr("order", o.Status, to)
	}
	from := o.Status
	now := s.now()
	ok, err := s.orders.TransitionStatus(ctx, o.ID, from, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return transitionErr("order", from, to)
	}

	o.Status = to
	o.UpdatedAt = now
	switch to {
	case models.OrderStatusCompleted:
		o.CompletedAt = &now
	case models.OrderStatusConfirmed:
		o.ConfirmedAt = &now
	case models.OrderStatusCancelled:
		o.CancelledAt = &now
	}

	s.rec.record(ctx, actor, models.EntityOrder, o.ID, fmt.Sprintf("order_status_%s_to_%s", from, to), map[string]any{
		"old_status": from,
		"new_status": to,
	})
	return nil
}

// Complete: the contractor reports the cleaning as done.
func (s *OrderService) Complete(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.PersonalizedOrder, error) {
	var order *models.PersonalizedOrder
	err := s.withOrderLock(ctx, orderID, func() error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return notFound("order", err)
		}
		if o.ContractorID != actor.UserID {
			return fmt.Errorf("%w: only the contractor can complete the order", ErrNotAuthorized)
		}
		if o.Status != models.OrderStatusActive {
			return transitionErr("order", o.Status, models.OrderStatusCompleted)
		}
		if err := s.transition(ctx, o, models.OrderStatusCompleted, actor); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, order.CustomerID, events.EventOrderCompleted, map[string]any{
		"order_id": order.ID.String(),
		"title":    order.Title,
	})
	return order, nil
}

// Confirm accepts the work: capture the hold, close the order, start the payout.
// A capture failure leaves the order COMPLETED so the call can be repeated.
func (s *OrderService) Confirm(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.PersonalizedOrder, error) {
	var (
		order *models.PersonalizedOrder
		hold  *models.PaymentHold
	)
	err := s.withOrderLock(ctx, orderID, func() error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return notFound("order", err)
		}
		if o.CustomerID != actor.UserID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the customer can confirm the order", ErrNotAuthorized)
		}
		if o.Status != models.OrderStatusCompleted {
			return transitionErr("order", o.Status, models.OrderStatusConfirmed)
		}

		hold, err = s.ledger.ReleaseHold(ctx, orderID, actor)
		if errors.Is(err, ErrInvalidHoldTransition) {
			// захват мог пройти в прошлой попытке, а статус заказа не записаться
			latest, latestErr := s.ledger.GetByOrder(ctx, orderID)
			if latestErr != nil || latest.Status != models.HoldStatusReleased {
				return err
			}
			hold, err = latest, nil
		}
		if err != nil {
			return err
		}

		if err := s.transition(ctx, o, models.OrderStatusConfirmed, actor); err != nil {
			return err
		}
		s.closeInvitation(ctx, orderID, models.InvitationStatusCompleted, nil)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.startPayout(ctx, order, hold)

	payload := map[string]any{"order_id": order.ID.String(), "title": order.Title}
	s.notifier.Notify(ctx, order.ContractorID, events.EventOrderConfirmed, payload)
	return order, nil
}

func (s *OrderService) startPayout(ctx context.Context, o *models.PersonalizedOrder, hold *models.PaymentHold) {
	if _, err := s.payouts.CreatePayout(ctx, PayoutInput{
		HoldID:       hold.ID,
		OrderID:      o.ID,
		ContractorID: o.ContractorID,
		Amount:       o.ContractorFee,
	}); err != nil {
		// reconciliation sweep creates it later
		s.log.Error("create payout failed",
			zap.String("order_id", o.ID.String()),
			zap.String("hold_id", hold.ID.String()),
			zap.Error(err),
		)
	}
}

// Cancel ends a non-terminal order. A HELD hold is voided first; if the
// gateway refuses, the order stays as it was.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.PersonalizedOrder, error) {
	var order *models.PersonalizedOrder
	err := s.withOrderLock(ctx, orderID, func() error {
		o, err := s.cancelLocked(ctx, actor, orderID)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyCancelled(ctx, actor, order)
	return order, nil
}

func (s *OrderService) cancelLocked(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.PersonalizedOrder, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound("order", err)
	}
	if !actor.IsAdmin() && !o.IsParticipant(actor.UserID) {
		return nil, fmt.Errorf("%w: only order participants can cancel it", ErrNotAuthorized)
	}
	if models.IsTerminalOrderStatus(o.Status) {
		return nil, transitionErr("order", o.Status, models.OrderStatusCancelled)
	}

	latest, err := s.ledger.GetByOrder(ctx, orderID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	case latest.Status == models.HoldStatusReleased:
		// деньги уже списаны, остаётся только подтверждение
		return nil, capturedErr(orderID)
	case latest.Status == models.HoldStatusHeld:
		if _, err := s.ledger.CancelHold(ctx, orderID, actor); err != nil {
			if !errors.Is(err, ErrInvalidHoldTransition) {
				return nil, err
			}
			// the hold left HELD under us, usually via the expiry sweep
			if h, _ := s.ledger.GetByOrder(ctx, orderID); h != nil && h.Status == models.HoldStatusReleased {
				return nil, capturedErr(orderID)
			}
		}
	}

	if err := s.transition(ctx, o, models.OrderStatusCancelled, actor); err != nil {
		return nil, err
	}
	s.closeInvitation(ctx, orderID, models.InvitationStatusCancelled, nil)
	return o, nil
}

// Refund runs HoldLedger.RefundHold under the order lock.
func (s *OrderService) Refund(ctx context.Context, actor models.Actor, orderID uuid.UUID, amount decimal.Decimal, reason string) (*models.PaymentHold, error) {
	var hold *models.PaymentHold
	err := s.withOrderLock(ctx, orderID, func() error {
		h, err := s.ledger.RefundHold(ctx, orderID, amount, reason, actor)
		hold = h
		return err
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func capturedErr(orderID uuid.UUID) error {
	return fmt.Errorf("%w: payment of order %s is already captured", ErrInvalidStateTransition, orderID)
}

func (s *OrderService) notifyCancelled(ctx context.Context, actor models.Actor, o *models.PersonalizedOrder) {
	payload := map[string]any{
		"order_id":     o.ID.String(),
		"title":        o.Title,
		"cancelled_by": actor.ActorType(),
	}
	if o.IsParticipant(actor.UserID) {
		s.notifier.Notify(ctx, o.Counterparty(actor.UserID), events.EventOrderCancelled, payload)
		return
	}
	s.notifier.Notify(ctx, o.CustomerID, events.EventOrderCancelled, payload)
	s.notifier.Notify(ctx, o.ContractorID, events.EventOrderCancelled, payload)
}

// closeInvitation moves the open invitation of an order, if any, to status.
func (s *OrderService) closeInvitation(ctx context.Context, orderID uuid.UUID, status string, reason *string) {
	inv, err := s.invitations.GetOpenByOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			s.log.Warn("load open invitation failed", zap.String("order_id", orderID.String()), zap.Error(err))
		}
		return
	}
	if !models.IsValidInvitationTransition(inv.Status, status) {
		return
	}
	if _, err := s.invitations.TransitionStatus(ctx, inv.ID, inv.Status, status, reason, s.now()); err != nil {
		s.log.Warn("close invitation failed", zap.String("invitation_id", inv.ID.String()), zap.Error(err))
	}
}

// SweepExpiredHolds expires lapsed holds and cancels, on behalf of the
// system, every open order whose latest hold is EXPIRED. That also picks up
// holds expired inline by a late confirm and orders that were busy on an
// earlier run.
func (s *OrderService) SweepExpiredHolds(ctx context.Context) (int, error) {
	expired, err := s.ledger.ExpireHolds(ctx)
	if err != nil {
		return 0, err
	}

	stale, err := s.ledger.expiredOpenOrders(ctx, s.batch)
	if err != nil {
		return len(expired), err
	}
	for i := range stale {
		s.cancelExpiredOrder(ctx, stale[i].PersonalizedOrderID)
	}
	return len(expired), nil
}

func (s *OrderService) cancelExpiredOrder(ctx context.Context, orderID uuid.UUID) {
	unlock, err := s.locker.TryLock(ctx, locks.OrderKey(orderID), s.lockTTL)
	if err != nil {
		s.log.Info("order busy, skipping expiry cancel", zap.String("order_id", orderID.String()))
		return
	}
	defer unlock()

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil || models.IsTerminalOrderStatus(o.Status) {
		return
	}
	// re-check under the lock: a new hold may have been placed meanwhile
	latest, err := s.ledger.GetByOrder(ctx, orderID)
	if err != nil || latest.Status != models.HoldStatusExpired {
		return
	}
	if err := s.transition(ctx, o, models.OrderStatusCancelled, models.SystemActor); err != nil {
		s.log.Warn("cancel order of expired hold", zap.String("order_id", o.ID.String()), zap.Error(err))
		return
	}
	s.closeInvitation(ctx, o.ID, models.InvitationStatusCancelled, nil)
	s.notifyCancelled(ctx, models.SystemActor, o)
}

// ReconcilePayouts creates payouts for released holds that never got one,
// e.g. when the process died between capture and payout creation.
func (s *OrderService) ReconcilePayouts(ctx context.Context) (int, error) {
	holds, err := s.ledger.releasedWithoutPayout(ctx, s.batch)
	if err != nil {
		return 0, err
	}
	created := 0
	for i := range holds {
		h := &holds[i]
		o, err := s.orders.GetByID(ctx, h.PersonalizedOrderID)
		if err != nil {
			s.log.Warn("reconcile: order lookup failed", zap.String("hold_id", h.ID.String()), zap.Error(err))
			continue
		}
		if o.Status != models.OrderStatusCompleted && o.Status != models.OrderStatusConfirmed {
			s.log.Warn("reconcile: captured hold on an unfinished order, skipping",
				zap.String("hold_id", h.ID.String()),
				zap.String("order_id", o.ID.String()),
				zap.String("order_status", o.Status),
			)
			continue
		}
		s.startPayout(ctx, o, h)
		created++
	}
	if created > 0 {
		s.log.Info("reconciled payouts", zap.Int("count", created))
	}
	return created, nil
}
