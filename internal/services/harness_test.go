package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/locks"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	users       *memUsers
	orders      *memOrders
	invitations *memInvitations
	holds       *memHolds
	payouts     *memPayouts
	txns        *memTxns
	audit       *memAudit
	notifier    *recordingNotifier
	bus         *events.MemoryBus
	gw          *gateway.Sandbox
	locker      *locks.LocalLocker
	clock       *fakeClock

	ledger     *HoldLedger
	engine     *PayoutEngine
	orderSvc   *OrderService
	inviteSvc  *InvitationService
	customer   models.Actor
	contractor models.Actor
	admin      models.Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	env := &testEnv{
		users:       newMemUsers(),
		orders:      newMemOrders(),
		invitations: newMemInvitations(),
		holds:       newMemHolds(),
		payouts:     newMemPayouts(),
		txns:        &memTxns{},
		audit:       &memAudit{},
		notifier:    &recordingNotifier{},
		bus:         events.NewMemoryBus(),
		gw:          gateway.NewSandbox(log),
		locker:      locks.NewLocalLocker(200 * time.Millisecond),
		clock:       &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	env.holds.hasPayout = env.payouts.forHold
	env.holds.orderStatus = env.orders.statusOf

	env.ledger = NewHoldLedger(env.holds, env.orders, env.txns, env.audit, env.gw, env.notifier, env.bus, 168*time.Hour, 100, log)
	env.engine = NewPayoutEngine(env.payouts, env.users, env.txns, env.audit, env.gw, env.notifier, env.bus,
		PayoutEngineOptions{Workers: 1, QueueSize: 16, StaleAfter: 10 * time.Minute, BatchSize: 100}, log)
	env.orderSvc = NewOrderService(env.orders, env.invitations, env.users, env.audit, env.ledger, env.engine,
		env.locker, 30*time.Second, env.notifier, env.bus, 100, log)
	env.inviteSvc = NewInvitationService(env.invitations, env.audit, env.orderSvc, env.ledger, env.notifier, env.bus, log)

	env.ledger.now = env.clock.Now
	env.engine.now = env.clock.Now
	env.orderSvc.now = env.clock.Now
	env.inviteSvc.now = env.clock.Now

	token := "card-token-1"
	tier := models.TierSpecialist
	phone := "+79991234567"
	customer := &models.User{Role: models.RoleCustomer, FullName: "Анна", Phone: &phone}
	contractor := &models.User{Role: models.RoleContractor, FullName: "Иван", ContractorTier: &tier, PayoutToken: &token}
	admin := &models.User{Role: models.RoleAdmin, FullName: "Ops"}
	env.users.add(customer)
	env.users.add(contractor)
	env.users.add(admin)
	env.customer = models.Actor{UserID: customer.ID, Role: models.RoleCustomer}
	env.contractor = models.Actor{UserID: contractor.ID, Role: models.RoleContractor}
	env.admin = models.Actor{UserID: admin.ID, Role: models.RoleAdmin}
	return env
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (env *testEnv) createOrder(t *testing.T, budget string) *models.PersonalizedOrder {
	t.Helper()
	o, err := env.orderSvc.Create(context.Background(), env.customer, CreateOrderInput{
		ContractorID: env.contractor.UserID,
		Title:        "Генеральная уборка",
		Budget:       dec(budget),
		Address:      "Москва, ул. Ленина, д. 5, кв. 12",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (env *testEnv) invite(t *testing.T, o *models.PersonalizedOrder) *models.Invitation {
	t.Helper()
	inv, err := env.inviteSvc.Create(context.Background(), env.customer, CreateInvitationInput{
		ContractorID: o.ContractorID,
		OrderID:      o.ID,
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	return inv
}

// activeOrder returns an order with an accepted invitation and a HELD hold.
func (env *testEnv) activeOrder(t *testing.T, budget string) (*models.PersonalizedOrder, *models.Invitation) {
	t.Helper()
	o := env.createOrder(t, budget)
	inv := env.invite(t, o)
	if _, err := env.inviteSvc.Accept(context.Background(), env.contractor, inv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return o, inv
}

func (env *testEnv) orderStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	o, err := env.orders.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o.Status
}

func (env *testEnv) latestHold(t *testing.T, orderID uuid.UUID) *models.PaymentHold {
	t.Helper()
	h, err := env.holds.GetLatestByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get hold: %v", err)
	}
	return h
}
