package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sandbox is an in-process processor used with PAYMENT_GATEWAY_MOCK and in
// tests. It keeps the same state rules as the real API and lets callers
// queue failures per operation.
type Sandbox struct {
	mu       sync.Mutex
	payments map[string]*Payment
	refunded map[string]decimal.Decimal
	payouts  map[string]*Payout // by idempotency key
	failures map[string][]error
	calls    map[string]int
	log      *zap.Logger
	now      func() time.Time
}

func NewSandbox(log *zap.Logger) *Sandbox {
	return &Sandbox{
		payments: make(map[string]*Payment),
		refunded: make(map[string]decimal.Decimal),
		payouts:  make(map[string]*Payout),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		log:      log,
		now:      time.Now,
	}
}

// FailNext makes the next n calls of op fail with a 503.
func (s *Sandbox) FailNext(op string, n int) {
	for i := 0; i < n; i++ {
		s.FailWith(op, &Error{Op: op, StatusCode: http.StatusServiceUnavailable, Cause: errors.New("sandbox: service unavailable")})
	}
}

// FailWith queues err for the next call of op.
func (s *Sandbox) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Calls counts invocations of op, failed ones included.
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Payment returns a copy of the stored payment.
func (s *Sandbox) Payment(id string) (Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, false
	}
	return *p, true
}

// PayoutCount is the number of distinct payouts actually sent.
func (s *Sandbox) PayoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payouts)
}

// enter must be called with s.mu held.
func (s *Sandbox) enter(op string) error {
	s.calls[op]++
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (s *Sandbox) CreateHold(ctx context.Context, req CreateHoldRequest) (*Payment, error) {
	if err := money.Validate(req.Amount); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateHold); err != nil {
		return nil, err
	}

	p := &Payment{
		ID:              "sandbox-" + uuid.NewString(),
		Status:          PaymentWaitingForCapture,
		Paid:            true,
		Amount:          req.Amount,
		ConfirmationURL: "https://sandbox.invalid/confirm",
		Metadata:        req.Metadata,
		CreatedAt:       s.now(),
	}
	if !req.ExpiresAt.IsZero() {
		exp := req.ExpiresAt
		p.ExpiresAt = &exp
	}
	s.payments[p.ID] = p
	s.log.Debug("sandbox hold created", zap.String("payment_id", p.ID), zap.String("amount", money.Format(p.Amount)))
	out := *p
	return &out, nil
}

func (s *Sandbox) CaptureHold(ctx context.Context, paymentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCaptureHold); err != nil {
		return nil, err
	}

	p, err := s.lookup(OpCaptureHold, paymentID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case PaymentWaitingForCapture:
		p.Status = PaymentSucceeded
	case PaymentSucceeded:
		// same idempotence key, same answer
	default:
		return nil, invalidState(OpCaptureHold, p.Status)
	}
	out := *p
	return &out, nil
}

func (s *Sandbox) CancelHold(ctx context.Context, paymentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCancelHold); err != nil {
		return nil, err
	}

	p, err := s.lookup(OpCancelHold, paymentID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case PaymentWaitingForCapture, PaymentPending:
		p.Status = PaymentCanceled
		p.Paid = false
	case PaymentCanceled:
	default:
		return nil, invalidState(OpCancelHold, p.Status)
	}
	out := *p
	return &out, nil
}

func (s *Sandbox) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetPayment); err != nil {
		return nil, err
	}
	p, err := s.lookup(OpGetPayment, paymentID)
	if err != nil {
		return nil, err
	}
	out := *p
	return &out, nil
}

func (s *Sandbox) CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, description string) (*Refund, error) {
	if err := money.Validate(amount); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateRefund); err != nil {
		return nil, err
	}

	p, err := s.lookup(OpCreateRefund, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentSucceeded {
		return nil, invalidState(OpCreateRefund, p.Status)
	}
	total := s.refunded[paymentID].Add(amount)
	if total.GreaterThan(p.Amount) {
		return nil, &Error{Op: OpCreateRefund, StatusCode: http.StatusBadRequest, Code: "invalid_request", Cause: errors.New("refund exceeds captured amount")}
	}
	s.refunded[paymentID] = total
	return &Refund{ID: "sandbox-refund-" + uuid.NewString(), PaymentID: paymentID, Status: PaymentSucceeded, Amount: amount}, nil
}

func (s *Sandbox) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	if err := money.Validate(req.Amount); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreatePayout); err != nil {
		return nil, err
	}
	if req.PayoutToken == "" {
		return nil, &Error{Op: OpCreatePayout, StatusCode: http.StatusBadRequest, Code: "invalid_request", Cause: errors.New("payout token is empty")}
	}
	if existing, ok := s.payouts[req.IdempotencyKey]; ok {
		out := *existing
		return &out, nil
	}
	p := &Payout{ID: "sandbox-payout-" + uuid.NewString(), Status: PayoutSucceeded, Amount: req.Amount}
	s.payouts[req.IdempotencyKey] = p
	out := *p
	return &out, nil
}

func (s *Sandbox) lookup(op, paymentID string) (*Payment, error) {
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, &Error{Op: op, StatusCode: http.StatusNotFound, Code: "not_found", Cause: errors.New("payment not found")}
	}
	return p, nil
}

func invalidState(op, status string) error {
	return &Error{Op: op, StatusCode: http.StatusBadRequest, Code: "invalid_request", Cause: errors.New("payment is " + status)}
}
