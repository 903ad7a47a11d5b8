package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HoldLedger owns the lifecycle of customer funds reserved at the gateway.
// Callers serialize per order (OrderService holds the order lock); the
// ledger itself relies on the CAS updates in HoldStore.
type HoldLedger struct {
	holds    HoldStore
	orders   OrderStore
	txns     TransactionStore
	gw       gateway.Client
	notifier Notifier
	rec      recorder
	holdTTL  time.Duration
	batch    int
	log      *zap.Logger
	now      func() time.Time
}

func NewHoldLedger(
	holds HoldStore,
	orders OrderStore,
	txns TransactionStore,
	audit AuditLogger,
	gw gateway.Client,
	notifier Notifier,
	publisher events.Publisher,
	holdTTL time.Duration,
	batch int,
	log *zap.Logger,
) *HoldLedger {
	if batch <= 0 {
		batch = 100
	}
	return &HoldLedger{
		holds:    holds,
		orders:   orders,
		txns:     txns,
		gw:       gw,
		notifier: notifier,
		rec:      recorder{audit: audit, publisher: publisher, log: log},
		holdTTL:  holdTTL,
		batch:    batch,
		log:      log,
		now:      time.Now,
	}
}

// CreateHold reserves amount on the customer's payment method for orderID.
func (l *HoldLedger) CreateHold(ctx context.Context, orderID, customerID uuid.UUID, amount decimal.Decimal) (*models.PaymentHold, error) {
	if err := money.Validate(amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	order, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFound("order", err)
	}
	if order.CustomerID != customerID {
		return nil, fmt.Errorf("%w: only the order customer can fund it", ErrNotAuthorized)
	}

	if _, err := l.holds.GetHeldByOrder(ctx, orderID); err == nil {
		return nil, ErrDuplicateHold
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	now := l.now()
	description := fmt.Sprintf("Оплата заказа %s", order.Title)
	payment, err := l.gw.CreateHold(ctx, gateway.CreateHoldRequest{
		Amount:      amount,
		Description: description,
		Metadata: map[string]string{
			"orderId":    orderID.String(),
			"customerId": customerID.String(),
		},
		ExpiresAt: now.Add(l.holdTTL),
	})
	if err != nil {
		return nil, err
	}

	hold := &models.PaymentHold{
		PersonalizedOrderID: orderID,
		CustomerID:          customerID,
		Amount:              amount,
		RefundedAmount:      decimal.Zero,
		Description:         description,
		Status:              models.HoldStatusHeld,
		GatewayPaymentID:    payment.ID,
		ExpiresAt:           now.Add(l.holdTTL),
		CreatedAt:           now,
	}
	if payment.ExpiresAt != nil {
		hold.ExpiresAt = *payment.ExpiresAt
	}
	if payment.ConfirmationURL != "" {
		url := payment.ConfirmationURL
		hold.ConfirmationURL = &url
	}

	if err := l.holds.Create(ctx, hold); err != nil {
		// деньги уже зарезервированы, без записи их надо вернуть
		if _, cancelErr := l.gw.CancelHold(ctx, payment.ID); cancelErr != nil {
			l.log.Error("failed to cancel orphaned gateway hold",
				zap.String("order_id", orderID.String()),
				zap.String("payment_id", payment.ID),
				zap.Error(cancelErr),
			)
		}
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateHold
		}
		return nil, err
	}

	l.rec.record(ctx, models.Actor{UserID: customerID, Role: models.RoleCustomer}, models.EntityHold, hold.ID, "hold_created", map[string]any{
		"order_id":   orderID.String(),
		"amount":     money.Format(amount),
		"payment_id": payment.ID,
	})
	l.notifier.Notify(ctx, customerID, events.EventPaymentHoldCreated, map[string]any{
		"order_id":         orderID.String(),
		"hold_id":          hold.ID.String(),
		"amount":           money.Format(amount),
		"confirmation_url": payment.ConfirmationURL,
	})

	l.log.Info("payment hold created",
		zap.String("order_id", orderID.String()),
		zap.String("hold_id", hold.ID.String()),
		zap.String("amount", money.Format(amount)),
	)
	return hold, nil
}

// heldForTransition loads the HELD hold of an order. When there is none it
// tells "never funded" apart from "already settled".
func (l *HoldLedger) heldForTransition(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	hold, err := l.holds.GetHeldByOrder(ctx, orderID)
	if err == nil {
		return hold, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	latest, err := l.holds.GetLatestByOrder(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: hold %s is %s", ErrInvalidHoldTransition, latest.ID, latest.Status)
}

// ReleaseHold captures the reserved funds. The hold only moves to RELEASED
// after the gateway confirms the capture; any failure leaves it HELD.
func (l *HoldLedger) ReleaseHold(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*models.PaymentHold, error) {
	hold, err := l.heldForTransition(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if hold.IsExpired(now) {
		if err := l.expire(ctx, hold, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: hold %s expired at %s", ErrInvalidHoldTransition, hold.ID, hold.ExpiresAt.Format(time.RFC3339))
	}

	payment, err := l.gw.CaptureHold(ctx, hold.GatewayPaymentID)
	if err != nil {
		l.log.Warn("capture failed, hold stays held",
			zap.String("order_id", orderID.String()),
			zap.String("hold_id", hold.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if payment.Status != gateway.PaymentSucceeded {
		return nil, &gateway.Error{
			Op:    gateway.OpCaptureHold,
			Cause: fmt.Errorf("unexpected payment status %q after capture", payment.Status),
		}
	}

	now = l.now()
	ok, err := l.holds.MarkReleased(ctx, hold.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: hold %s left held concurrently", ErrInvalidHoldTransition, hold.ID)
	}
	hold.Status = models.HoldStatusReleased
	hold.ReleasedAt = &now
	hold.UpdatedAt = now

	order, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		// hold is already released, ledger rows can be rebuilt from the audit log
		l.log.Error("order lookup after capture failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return hold, nil
	}
	l.appendTxn(ctx, order.CustomerID, orderID, models.TransactionPayment, hold.Amount, "Оплата заказа "+order.Title)
	l.appendTxn(ctx, order.ContractorID, orderID, models.TransactionCommission, order.PlatformFee, "Комиссия платформы")

	l.rec.record(ctx, actor, models.EntityHold, hold.ID, "hold_released", map[string]any{
		"order_id": orderID.String(),
		"amount":   money.Format(hold.Amount),
	})
	payload := map[string]any{"order_id": orderID.String(), "hold_id": hold.ID.String(), "amount": money.Format(hold.Amount)}
	l.notifier.Notify(ctx, order.CustomerID, events.EventPaymentHoldReleased, payload)
	l.notifier.Notify(ctx, order.ContractorID, events.EventPaymentHoldReleased, payload)

	l.log.Info("payment hold released",
		zap.String("order_id", orderID.String()),
		zap.String("hold_id", hold.ID.String()),
	)
	return hold, nil
}

// CancelHold voids the reservation. On gateway failure the hold stays HELD.
func (l *HoldLedger) CancelHold(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*models.PaymentHold, error) {
	hold, err := l.heldForTransition(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := l.gw.CancelHold(ctx, hold.GatewayPaymentID)
	if err != nil {
		l.log.Warn("gateway cancel failed, hold stays held",
			zap.String("order_id", orderID.String()),
			zap.String("hold_id", hold.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if payment.Status != gateway.PaymentCanceled {
		return nil, &gateway.Error{
			Op:    gateway.OpCancelHold,
			Cause: fmt.Errorf("unexpected payment status %q after cancel", payment.Status),
		}
	}

	now := l.now()
	ok, err := l.holds.MarkCancelled(ctx, hold.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: hold %s left held concurrently", ErrInvalidHoldTransition, hold.ID)
	}
	hold.Status = models.HoldStatusCancelled
	hold.CancelledAt = &now
	hold.UpdatedAt = now

	l.rec.record(ctx, actor, models.EntityHold, hold.ID, "hold_cancelled", map[string]any{"order_id": orderID.String()})
	l.notifier.Notify(ctx, hold.CustomerID, events.EventPaymentHoldCancelled, map[string]any{
		"order_id": orderID.String(),
		"hold_id":  hold.ID.String(),
		"amount":   money.Format(hold.Amount),
	})
	return hold, nil
}

// expire marks a lapsed hold EXPIRED and voids it at the gateway on a best-effort basis.
func (l *HoldLedger) expire(ctx context.Context, hold *models.PaymentHold, now time.Time) error {
	ok, err := l.holds.MarkExpired(ctx, hold.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		// кто-то успел раньше
		return nil
	}
	hold.Status = models.HoldStatusExpired
	hold.ExpiredAt = &now
	hold.UpdatedAt = now

	if _, err := l.gw.CancelHold(ctx, hold.GatewayPaymentID); err != nil {
		l.log.Warn("gateway cancel of expired hold failed",
			zap.String("hold_id", hold.ID.String()),
			zap.Error(err),
		)
	}

	l.rec.record(ctx, models.SystemActor, models.EntityHold, hold.ID, "hold_expired", map[string]any{
		"order_id": hold.PersonalizedOrderID.String(),
	})
	payload := map[string]any{"order_id": hold.PersonalizedOrderID.String(), "hold_id": hold.ID.String()}
	l.notifier.Notify(ctx, hold.CustomerID, events.EventPaymentHoldExpired, payload)
	if order, err := l.orders.GetByID(ctx, hold.PersonalizedOrderID); err == nil {
		l.notifier.Notify(ctx, order.ContractorID, events.EventPaymentHoldExpired, payload)
	}
	return nil
}

// ExpireHolds sweeps HELD holds past their expiry and returns the ones it moved.
func (l *HoldLedger) ExpireHolds(ctx context.Context) ([]models.PaymentHold, error) {
	now := l.now()
	holds, err := l.holds.ListExpiring(ctx, now, l.batch)
	if err != nil {
		return nil, err
	}

	var expired []models.PaymentHold
	for i := range holds {
		h := holds[i]
		if err := l.expire(ctx, &h, now); err != nil {
			l.log.Error("expire hold failed", zap.String("hold_id", h.ID.String()), zap.Error(err))
			continue
		}
		if h.Status == models.HoldStatusExpired {
			expired = append(expired, h)
		}
	}
	if len(expired) > 0 {
		l.log.Info("expired payment holds", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// RefundHold returns captured money to the customer. A zero amount refunds
// whatever is still refundable. Callers serialize it per order, see
// OrderService.Refund.
func (l *HoldLedger) RefundHold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, reason string, actor models.Actor) (*models.PaymentHold, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: refunds are admin only", ErrNotAuthorized)
	}

	hold, err := l.holds.GetLatestByOrder(ctx, orderID)
	if err != nil {
		return nil, notFound("payment hold", err)
	}
	if hold.Status != models.HoldStatusReleased {
		return nil, fmt.Errorf("%w: hold %s is %s, only released holds can be refunded", ErrInvalidHoldTransition, hold.ID, hold.Status)
	}

	refundable := hold.Refundable()
	if amount.IsZero() {
		amount = refundable
	}
	if err := money.Validate(amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if amount.GreaterThan(refundable) {
		return nil, validationf("refund %s exceeds refundable %s", money.Format(amount), money.Format(refundable))
	}

	if reason == "" {
		reason = "Возврат средств"
	}
	refund, err := l.gw.CreateRefund(ctx, hold.GatewayPaymentID, amount, reason)
	if err != nil {
		return nil, err
	}

	now := l.now()
	ok, err := l.holds.AddRefund(ctx, hold.ID, amount, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		l.log.Error("refund accepted by gateway but not recorded",
			zap.String("hold_id", hold.ID.String()),
			zap.String("refund_id", refund.ID),
		)
		return nil, fmt.Errorf("%w: hold %s, refund %s", ErrRefundNotRecorded, hold.ID, refund.ID)
	}
	hold.RefundedAmount = hold.RefundedAmount.Add(amount)
	hold.UpdatedAt = now

	l.appendTxn(ctx, hold.CustomerID, orderID, models.TransactionRefund, amount, reason)
	l.rec.record(ctx, actor, models.EntityHold, hold.ID, "hold_refunded", map[string]any{
		"order_id":  orderID.String(),
		"amount":    money.Format(amount),
		"refund_id": refund.ID,
	})
	l.notifier.Notify(ctx, hold.CustomerID, events.EventPaymentRefunded, map[string]any{
		"order_id": orderID.String(),
		"amount":   money.Format(amount),
	})
	return hold, nil
}

func (l *HoldLedger) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	h, err := l.holds.GetLatestByOrder(ctx, orderID)
	if err != nil {
		return nil, notFound("payment hold", err)
	}
	return h, nil
}

func (l *HoldLedger) releasedWithoutPayout(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	return l.holds.ListReleasedWithoutPayout(ctx, limit)
}

func (l *HoldLedger) expiredOpenOrders(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	return l.holds.ListExpiredForOpenOrders(ctx, limit)
}

func (l *HoldLedger) List(ctx context.Context, f repositories.HoldFilter) ([]models.PaymentHold, error) {
	return l.holds.List(ctx, f)
}

func (l *HoldLedger) appendTxn(ctx context.Context, userID, orderID uuid.UUID, kind string, amount decimal.Decimal, description string) {
	if err := l.txns.Append(ctx, &models.Transaction{
		UserID:      userID,
		OrderID:     &orderID,
		Type:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   l.now(),
	}); err != nil {
		l.log.Error("append transaction failed",
			zap.String("order_id", orderID.String()),
			zap.String("type", kind),
			zap.Error(err),
		)
	}
}
