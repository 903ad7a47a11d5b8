package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// MaxPayoutRetries is the number of failed attempts after which a payout is
// cancelled for good.
const MaxPayoutRetries = 5

var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// RetryDelay is the backoff before attempt n+1, n being the failures so far (1-based).
func RetryDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[n-1]
}

type PayoutInput struct {
	HoldID       uuid.UUID
	OrderID      uuid.UUID
	ContractorID uuid.UUID
	Amount       decimal.Decimal
}

// PayoutEngine transfers the contractor's share once a hold is released.
// New payouts go onto an in-process queue drained by Run; the sweep
// (RetryDue) picks up failures and anything the queue lost.
type PayoutEngine struct {
	payouts    PayoutStore
	users      UserDirectory
	txns       TransactionStore
	gw         gateway.Client
	notifier   Notifier
	rec        recorder
	queue      chan uuid.UUID
	workers    int
	staleAfter time.Duration
	batch      int
	log        *zap.Logger
	now        func() time.Time
}

type PayoutEngineOptions struct {
	Workers    int
	QueueSize  int
	StaleAfter time.Duration
	BatchSize  int
}

func NewPayoutEngine(
	payouts PayoutStore,
	users UserDirectory,
	txns TransactionStore,
	audit AuditLogger,
	gw gateway.Client,
	notifier Notifier,
	publisher events.Publisher,
	opts PayoutEngineOptions,
	log *zap.Logger,
) *PayoutEngine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &PayoutEngine{
		payouts:    payouts,
		users:      users,
		txns:       txns,
		gw:         gw,
		notifier:   notifier,
		rec:        recorder{audit: audit, publisher: publisher, log: log},
		queue:      make(chan uuid.UUID, opts.QueueSize),
		workers:    opts.Workers,
		staleAfter: opts.StaleAfter,
		batch:      opts.BatchSize,
		log:        log,
		now:        time.Now,
	}
}

// CreatePayout is idempotent on (hold, contractor): a second call returns
// the existing row untouched and does not enqueue it again.
func (e *PayoutEngine) CreatePayout(ctx context.Context, in PayoutInput) (*models.Payout, error) {
	if err := money.Validate(in.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	p := &models.Payout{
		HoldID:         in.HoldID,
		OrderID:        in.OrderID,
		ContractorID:   in.ContractorID,
		Amount:         in.Amount,
		Status:         models.PayoutStatusPending,
		IdempotencyKey: models.PayoutIdempotencyKey(in.HoldID, in.ContractorID),
		CreatedAt:      e.now(),
	}
	created, err := e.payouts.CreateIfAbsent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		e.log.Info("payout already exists", zap.String("payout_id", p.ID.String()), zap.String("status", p.Status))
		return p, nil
	}

	e.rec.record(ctx, models.SystemActor, models.EntityPayout, p.ID, "payout_created", map[string]any{
		"order_id": in.OrderID.String(),
		"hold_id":  in.HoldID.String(),
		"amount":   money.Format(in.Amount),
	})
	e.Submit(p.ID)
	return p, nil
}

// Submit enqueues a payout without blocking. A full queue is not an error:
// the row stays PENDING and the sweep will find it.
func (e *PayoutEngine) Submit(id uuid.UUID) {
	select {
	case e.queue <- id:
	default:
		e.log.Warn("payout queue full, leaving for sweep", zap.String("payout_id", id.String()))
	}
}

// Run drains the queue with a fixed pool of workers until ctx is done.
func (e *PayoutEngine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-e.queue:
					if err := e.Process(ctx, id); err != nil {
						e.log.Error("process payout", zap.String("payout_id", id.String()), zap.Error(err))
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Process runs one attempt. Gateway errors and panics end up as a recorded
// failure; only storage errors are returned.
func (e *PayoutEngine) Process(ctx context.Context, id uuid.UUID) error {
	return e.process(ctx, id, false)
}

func (e *PayoutEngine) process(ctx context.Context, id uuid.UUID, force bool) (err error) {
	now := e.now()
	claimed, err := e.payouts.Claim(ctx, id, now, now.Add(-e.staleAfter), force)
	if err != nil {
		return err
	}
	if !claimed {
		// уже обработан или ещё не пора
		return nil
	}

	p, err := e.payouts.GetByID(ctx, id)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("payout attempt panicked", zap.String("payout_id", id.String()), zap.Any("panic", r))
			err = e.handleFailure(ctx, p, fmt.Sprintf("panic: %v", r))
		}
	}()

	token, err := e.payoutToken(ctx, p.ContractorID)
	if err != nil {
		return err
	}
	if token == "" {
		return e.handleFailure(ctx, p, "contractor has no payout destination")
	}

	out, gwErr := e.gw.CreatePayout(ctx, gateway.PayoutRequest{
		Amount:         p.Amount,
		PayoutToken:    token,
		Description:    fmt.Sprintf("Выплата по заказу %s", p.OrderID),
		IdempotencyKey: p.IdempotencyKey,
		Metadata: map[string]string{
			"orderId":  p.OrderID.String(),
			"payoutId": p.ID.String(),
		},
	})
	if gwErr != nil {
		return e.handleFailure(ctx, p, gwErr.Error())
	}

	switch out.Status {
	case gateway.PayoutSucceeded:
		return e.markSucceeded(ctx, p, out.ID)
	case gateway.PayoutPending:
		// processor accepted it; the stale sweep re-asks with the same key
		return e.payouts.SetExternalID(ctx, p.ID, out.ID, e.now())
	default:
		return e.handleFailure(ctx, p, fmt.Sprintf("payout %s is %s", out.ID, out.Status))
	}
}

func (e *PayoutEngine) payoutToken(ctx context.Context, contractorID uuid.UUID) (string, error) {
	u, err := e.users.GetByID(ctx, contractorID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if u.PayoutToken == nil {
		return "", nil
	}
	return *u.PayoutToken, nil
}

func (e *PayoutEngine) markSucceeded(ctx context.Context, p *models.Payout, externalID string) error {
	now := e.now()
	ok, err := e.payouts.MarkSucceeded(ctx, p.ID, externalID, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	p.Status = models.PayoutStatusSucceeded
	p.ExternalPayoutID = &externalID

	orderID := p.OrderID
	if err := e.txns.Append(ctx, &models.Transaction{
		UserID:      p.ContractorID,
		OrderID:     &orderID,
		Type:        models.TransactionPayout,
		Amount:      p.Amount,
		Description: "Выплата исполнителю",
		CreatedAt:   now,
	}); err != nil {
		e.log.Error("append payout transaction failed", zap.String("payout_id", p.ID.String()), zap.Error(err))
	}

	e.rec.record(ctx, models.SystemActor, models.EntityPayout, p.ID, "payout_succeeded", map[string]any{
		"order_id":    p.OrderID.String(),
		"external_id": externalID,
	})
	e.notifier.Notify(ctx, p.ContractorID, events.EventPayoutSucceeded, map[string]any{
		"order_id":  p.OrderID.String(),
		"payout_id": p.ID.String(),
		"amount":    money.Format(p.Amount),
	})
	e.log.Info("payout succeeded", zap.String("payout_id", p.ID.String()), zap.String("external_id", externalID))
	return nil
}

func (e *PayoutEngine) handleFailure(ctx context.Context, p *models.Payout, msg string) error {
	now := e.now()
	retries := p.RetryCount + 1

	if retries >= MaxPayoutRetries {
		ok, err := e.payouts.MarkCancelled(ctx, p.ID, retries, msg, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		p.Status = models.PayoutStatusCancelled
		p.RetryCount = retries

		e.rec.record(ctx, models.SystemActor, models.EntityPayout, p.ID, "payout_cancelled", map[string]any{
			"retries": retries,
			"error":   msg,
		})
		e.notifier.Notify(ctx, p.ContractorID, events.EventPayoutCancelled, map[string]any{
			"order_id":  p.OrderID.String(),
			"payout_id": p.ID.String(),
			"amount":    money.Format(p.Amount),
		})
		e.log.Error("payout cancelled after max retries",
			zap.String("payout_id", p.ID.String()),
			zap.Int("retries", retries),
			zap.String("error", msg),
		)
		return nil
	}

	next := now.Add(RetryDelay(retries))
	ok, err := e.payouts.MarkFailed(ctx, p.ID, retries, next, msg, now)
	if err != nil {
		return err
	}
	if ok {
		p.Status = models.PayoutStatusFailed
		p.RetryCount = retries
		p.NextRetryAt = &next
		e.log.Warn("payout attempt failed",
			zap.String("payout_id", p.ID.String()),
			zap.Int("retries", retries),
			zap.Time("next_retry_at", next),
			zap.String("error", msg),
		)
	}
	return nil
}

// RetryDue processes every payout the sweep considers runnable and returns
// how many were attempted.
func (e *PayoutEngine) RetryDue(ctx context.Context) (int, error) {
	now := e.now()
	ids, err := e.payouts.ListDue(ctx, now, now.Add(-e.staleAfter), e.batch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := e.Process(ctx, id); err != nil {
			e.log.Error("retry payout", zap.String("payout_id", id.String()), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		e.log.Info("payout sweep", zap.Int("attempted", len(ids)))
	}
	return len(ids), nil
}

// RetryPayout forces an attempt for a failed payout regardless of its backoff.
func (e *PayoutEngine) RetryPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := e.payouts.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("payout", err)
	}
	switch p.Status {
	case models.PayoutStatusCancelled:
		return nil, ErrMaxRetriesExceeded
	case models.PayoutStatusSucceeded:
		return p, nil
	}

	if err := e.process(ctx, id, true); err != nil {
		return nil, err
	}
	return e.payouts.GetByID(ctx, id)
}

func (e *PayoutEngine) Get(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p, err := e.payouts.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("payout", err)
	}
	return p, nil
}

func (e *PayoutEngine) ListPayouts(ctx context.Context, contractorID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	return e.payouts.ListByContractor(ctx, contractorID, limit, offset)
}

// Balance is the total the contractor has actually been paid.
func (e *PayoutEngine) Balance(ctx context.Context, contractorID uuid.UUID) (decimal.Decimal, error) {
	return e.payouts.SumSucceeded(ctx, contractorID)
}

func (e *PayoutEngine) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	return e.txns.ListByUser(ctx, userID, limit, offset)
}
