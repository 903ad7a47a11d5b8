package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cleaninghouse/escrow/internal/gateway"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/cleaninghouse/escrow/internal/repositories"
	"github.com/google/uuid"
)

func TestConcurrentCreatePayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.payoutInput()

	const n = 16
	var (
		wg   sync.WaitGroup
		ids  = make([]uuid.UUID, n)
		errs = make([]error, n)
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			p, err := env.engine.CreatePayout(ctx, in)
			errs[i] = err
			if p != nil {
				ids[i] = p.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d got payout %s, want %s", i, ids[i], ids[0])
		}
	}
	if env.payouts.count() != 1 {
		t.Errorf("rows = %d, want 1", env.payouts.count())
	}
}

// Accept and Cancel on the same pending order, started together. Whatever
// the interleaving, the order ends CANCELLED and no money stays reserved.
func TestConcurrentAcceptAndCancel(t *testing.T) {
	for round := 0; round < 25; round++ {
		env := newTestEnv(t)
		ctx := context.Background()
		o := env.createOrder(t, "1000")
		inv := env.invite(t, o)

		var (
			wg                   sync.WaitGroup
			acceptErr, cancelErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = env.inviteSvc.Accept(ctx, env.contractor, inv.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = env.orderSvc.Cancel(ctx, env.customer, o.ID)
		}()
		close(start)
		wg.Wait()

		if cancelErr != nil {
			t.Fatalf("round %d: cancel: %v", round, cancelErr)
		}
		if acceptErr != nil && !errors.Is(acceptErr, ErrInvalidStateTransition) {
			t.Fatalf("round %d: accept lost with %v", round, acceptErr)
		}
		if got := env.orderStatus(t, o.ID); got != models.OrderStatusCancelled {
			t.Fatalf("round %d: order = %s, want cancelled", round, got)
		}

		holds, err := env.holds.List(ctx, repositories.HoldFilter{OrderID: &o.ID})
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case acceptErr != nil && len(holds) != 0:
			t.Errorf("round %d: accept lost but %d holds exist", round, len(holds))
		case acceptErr == nil && (len(holds) != 1 || holds[0].Status != models.HoldStatusCancelled):
			t.Errorf("round %d: accept won, holds = %+v, want one cancelled", round, holds)
		}
		if created, voided := env.gw.Calls(gateway.OpCreateHold), env.gw.Calls(gateway.OpCancelHold); created != voided {
			t.Errorf("round %d: gateway holds created %d, voided %d", round, created, voided)
		}
	}
}
