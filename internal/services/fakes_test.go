package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// In-memory stores with the same CAS semantics as the pgx repositories.

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[uuid.UUID]*models.User{}} }

func (m *memUsers) add(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *u
	return &out, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.PersonalizedOrder
	// failTo fails the next transition into that status once.
	failTo string
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[uuid.UUID]*models.PersonalizedOrder{}}
}

func (m *memOrders) Create(ctx context.Context, o *models.PersonalizedOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, id uuid.UUID) (*models.PersonalizedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *o
	return &out, nil
}

func (m *memOrders) statusOf(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o.Status
	}
	return ""
}

func (m *memOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo != "" && m.failTo == to {
		m.failTo = ""
		return false, errors.New("connection reset")
	}
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case models.OrderStatusCompleted:
		o.CompletedAt = &at
	case models.OrderStatusConfirmed:
		o.ConfirmedAt = &at
	case models.OrderStatusCancelled:
		o.CancelledAt = &at
	}
	return true, nil
}

func (m *memOrders) List(ctx context.Context, f repositories.OrderFilter) ([]models.PersonalizedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PersonalizedOrder
	for _, o := range m.orders {
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.ContractorID != nil && o.ContractorID != *f.ContractorID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

type memInvitations struct {
	mu   sync.Mutex
	invs map[uuid.UUID]*models.Invitation
}

func newMemInvitations() *memInvitations {
	return &memInvitations{invs: map[uuid.UUID]*models.Invitation{}}
}

func (m *memInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.invs {
		if other.PersonalizedOrderID == inv.PersonalizedOrderID && models.IsOpenInvitationStatus(other.Status) {
			return repositories.ErrDuplicate
		}
	}
	inv.ID = uuid.New()
	cp := *inv
	m.invs[inv.ID] = &cp
	return nil
}

func (m *memInvitations) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *inv
	return &out, nil
}

func (m *memInvitations) GetOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invs {
		if inv.PersonalizedOrderID == orderID && models.IsOpenInvitationStatus(inv.Status) {
			out := *inv
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memInvitations) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, reason *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invs[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	inv.UpdatedAt = at
	if reason != nil {
		inv.RejectionReason = reason
	}
	return true, nil
}

func (m *memInvitations) List(ctx context.Context, f repositories.InvitationFilter) ([]models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invitation
	for _, inv := range m.invs {
		if f.CustomerID != nil && inv.CustomerID != *f.CustomerID {
			continue
		}
		if f.ContractorID != nil && inv.ContractorID != *f.ContractorID {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

type memHolds struct {
	mu    sync.Mutex
	holds []*models.PaymentHold
	// hasPayout reports whether a payout row exists for a hold.
	hasPayout func(holdID uuid.UUID) bool
	// orderStatus resolves the current status of a hold's order.
	orderStatus func(orderID uuid.UUID) string
	failCreate  error
	failRefund  bool
}

func newMemHolds() *memHolds { return &memHolds{} }

func (m *memHolds) Create(ctx context.Context, h *models.PaymentHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		err := m.failCreate
		m.failCreate = nil
		return err
	}
	for _, other := range m.holds {
		if other.PersonalizedOrderID == h.PersonalizedOrderID && other.Status == models.HoldStatusHeld {
			return repositories.ErrDuplicate
		}
	}
	h.ID = uuid.New()
	h.UpdatedAt = h.CreatedAt
	cp := *h
	m.holds = append(m.holds, &cp)
	return nil
}

func (m *memHolds) find(id uuid.UUID) *models.PaymentHold {
	for _, h := range m.holds {
		if h.ID == id {
			return h
		}
	}
	return nil
}

func (m *memHolds) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(id)
	if h == nil {
		return nil, repositories.ErrNotFound
	}
	out := *h
	return &out, nil
}

func (m *memHolds) GetHeldByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.PersonalizedOrderID == orderID && h.Status == models.HoldStatusHeld {
			out := *h
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memHolds) GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.holds) - 1; i >= 0; i-- {
		if m.holds[i].PersonalizedOrderID == orderID {
			out := *m.holds[i]
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memHolds) leaveHeld(id uuid.UUID, status string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(id)
	if h == nil || h.Status != models.HoldStatusHeld {
		return false
	}
	h.Status = status
	h.UpdatedAt = at
	switch status {
	case models.HoldStatusReleased:
		h.ReleasedAt = &at
	case models.HoldStatusCancelled:
		h.CancelledAt = &at
	case models.HoldStatusExpired:
		h.ExpiredAt = &at
	}
	return true
}

func (m *memHolds) MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.leaveHeld(id, models.HoldStatusReleased, at), nil
}

func (m *memHolds) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.leaveHeld(id, models.HoldStatusCancelled, at), nil
}

func (m *memHolds) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.leaveHeld(id, models.HoldStatusExpired, at), nil
}

func (m *memHolds) AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(id)
	if m.failRefund {
		m.failRefund = false
		return false, nil
	}
	if h == nil || h.Status != models.HoldStatusReleased || h.RefundedAmount.Add(amount).GreaterThan(h.Amount) {
		return false, nil
	}
	h.RefundedAmount = h.RefundedAmount.Add(amount)
	h.UpdatedAt = at
	return true, nil
}

func (m *memHolds) ListExpiring(ctx context.Context, before time.Time, limit int) ([]models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentHold
	for _, h := range m.holds {
		if h.Status == models.HoldStatusHeld && !h.ExpiresAt.After(before) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *memHolds) ListReleasedWithoutPayout(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentHold
	for _, h := range m.holds {
		if h.Status != models.HoldStatusReleased || (m.hasPayout != nil && m.hasPayout(h.ID)) {
			continue
		}
		if m.orderIn(h.PersonalizedOrderID, models.OrderStatusCompleted, models.OrderStatusConfirmed) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *memHolds) orderIn(orderID uuid.UUID, statuses ...string) bool {
	if m.orderStatus == nil {
		return true
	}
	return slices.Contains(statuses, m.orderStatus(orderID))
}

func (m *memHolds) ListExpiredForOpenOrders(ctx context.Context, limit int) ([]models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[uuid.UUID]*models.PaymentHold{}
	for _, h := range m.holds {
		latest[h.PersonalizedOrderID] = h
	}
	var out []models.PaymentHold
	for _, h := range m.holds {
		if latest[h.PersonalizedOrderID] != h || h.Status != models.HoldStatusExpired {
			continue
		}
		if m.orderIn(h.PersonalizedOrderID, models.OrderStatusActive, models.OrderStatusCompleted) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *memHolds) List(ctx context.Context, f repositories.HoldFilter) ([]models.PaymentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentHold
	for _, h := range m.holds {
		if f.OrderID != nil && h.PersonalizedOrderID != *f.OrderID {
			continue
		}
		if f.Status != nil && h.Status != *f.Status {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

type memPayouts struct {
	mu      sync.Mutex
	payouts map[uuid.UUID]*models.Payout
}

func newMemPayouts() *memPayouts { return &memPayouts{payouts: map[uuid.UUID]*models.Payout{}} }

func (m *memPayouts) forHold(holdID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.HoldID == holdID {
			return true
		}
	}
	return false
}

func (m *memPayouts) CreateIfAbsent(ctx context.Context, p *models.Payout) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payouts {
		if existing.IdempotencyKey == p.IdempotencyKey {
			*p = *existing
			return false, nil
		}
	}
	p.ID = uuid.New()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.payouts[p.ID] = &cp
	return true, nil
}

func (m *memPayouts) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (m *memPayouts) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time, force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return false, nil
	}
	runnable := p.Status == models.PayoutStatusPending ||
		(p.Status == models.PayoutStatusFailed && (force || p.NextRetryAt == nil || !p.NextRetryAt.After(now))) ||
		(p.Status == models.PayoutStatusProcessing && p.UpdatedAt.Before(staleBefore))
	if !runnable {
		return false, nil
	}
	p.Status = models.PayoutStatusProcessing
	p.UpdatedAt = now
	return true, nil
}

func (m *memPayouts) SetExternalID(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payouts[id]; ok && p.Status == models.PayoutStatusProcessing {
		p.ExternalPayoutID = &externalID
		p.UpdatedAt = at
	}
	return nil
}

func (m *memPayouts) MarkSucceeded(ctx context.Context, id uuid.UUID, externalID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutStatusProcessing {
		return false, nil
	}
	p.Status = models.PayoutStatusSucceeded
	p.ExternalPayoutID = &externalID
	p.ErrorMessage = nil
	p.NextRetryAt = nil
	p.UpdatedAt = at
	return true, nil
}

func (m *memPayouts) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, msg string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutStatusProcessing {
		return false, nil
	}
	p.Status = models.PayoutStatusFailed
	p.RetryCount = retryCount
	p.NextRetryAt = &nextRetryAt
	p.ErrorMessage = &msg
	p.UpdatedAt = at
	return true, nil
}

func (m *memPayouts) MarkCancelled(ctx context.Context, id uuid.UUID, retryCount int, msg string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutStatusProcessing {
		return false, nil
	}
	p.Status = models.PayoutStatusCancelled
	p.RetryCount = retryCount
	p.NextRetryAt = nil
	p.ErrorMessage = &msg
	p.UpdatedAt = at
	return true, nil
}

func (m *memPayouts) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, p := range m.payouts {
		due := (p.Status == models.PayoutStatusFailed && p.NextRetryAt != nil && !p.NextRetryAt.After(now)) ||
			((p.Status == models.PayoutStatusPending || p.Status == models.PayoutStatusProcessing) && p.UpdatedAt.Before(staleBefore))
		if due {
			ids = append(ids, p.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *memPayouts) ListByContractor(ctx context.Context, contractorID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payout
	for _, p := range m.payouts {
		if p.ContractorID == contractorID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPayouts) SumSucceeded(ctx context.Context, contractorID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, p := range m.payouts {
		if p.ContractorID == contractorID && p.Status == models.PayoutStatusSucceeded {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (m *memPayouts) only() *models.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		out := *p
		return &out
	}
	return nil
}

func (m *memPayouts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payouts)
}

type memTxns struct {
	mu   sync.Mutex
	txns []models.Transaction
}

func (m *memTxns) Append(ctx context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	m.txns = append(m.txns, *t)
	return nil
}

func (m *memTxns) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTxns) ofType(kind string) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if t.Type == kind {
			out = append(out, t)
		}
	}
	return out
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) Log(ctx context.Context, entry models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type sentNotification struct {
	UserID uuid.UUID
	Type   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Type: eventType})
}

func (n *recordingNotifier) has(userID uuid.UUID, eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sent {
		if s.UserID == userID && s.Type == eventType {
			return true
		}
	}
	return false
}
