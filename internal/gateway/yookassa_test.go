package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *YooKassa {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewYooKassa(Options{
		BaseURL:   srv.URL + "/",
		ShopID:    "shop-1",
		SecretKey: "secret",
		Currency:  "RUB",
		ReturnURL: "https://example.test/return",
		Timeout:   2 * time.Second,
	}, zap.NewNop())
}

func TestCreateHoldRequestShape(t *testing.T) {
	var gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop-1" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		gotKey = r.Header.Get("Idempotence-Key")

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		amount := body["amount"].(map[string]any)
		if amount["value"] != "10000.00" || amount["currency"] != "RUB" {
			t.Errorf("amount = %v", amount)
		}
		if body["capture"] != false {
			t.Errorf("capture = %v, want false", body["capture"])
		}
		meta := body["metadata"].(map[string]any)
		if meta["order_id"] != "o-1" || meta["hold_expires_at"] == nil {
			t.Errorf("metadata = %v", meta)
		}

		_, _ = io.WriteString(w, `{
			"id": "pay-1", "status": "waiting_for_capture", "paid": true,
			"amount": {"value": "10000.00", "currency": "RUB"},
			"confirmation": {"type": "redirect", "confirmation_url": "https://pay.test/confirm"},
			"created_at": "2026-01-02T03:04:05Z"
		}`)
	})

	p, err := c.CreateHold(context.Background(), CreateHoldRequest{
		Amount:      decimal.NewFromInt(10000),
		Description: "order o-1",
		Metadata:    map[string]string{"order_id": "o-1"},
		ExpiresAt:   time.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	if p.ID != "pay-1" || p.Status != PaymentWaitingForCapture {
		t.Errorf("payment = %+v", p)
	}
	if p.ConfirmationURL != "https://pay.test/confirm" {
		t.Errorf("confirmation url = %q", p.ConfirmationURL)
	}
	if !strings.HasPrefix(gotKey, "hold-") {
		t.Errorf("idempotence key = %q", gotKey)
	}
}

func TestCaptureAndCancelUseDeterministicKeys(t *testing.T) {
	keys := map[string]string{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys[r.URL.Path] = r.Header.Get("Idempotence-Key")
		status := PaymentSucceeded
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			status = PaymentCanceled
		}
		_, _ = io.WriteString(w, `{"id":"pay-9","status":"`+status+`","amount":{"value":"5.00","currency":"RUB"}}`)
	})

	ctx := context.Background()
	if _, err := c.CaptureHold(ctx, "pay-9"); err != nil {
		t.Fatalf("CaptureHold: %v", err)
	}
	if _, err := c.CancelHold(ctx, "pay-9"); err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	if keys["/payments/pay-9/capture"] != "capture-pay-9" {
		t.Errorf("capture key = %q", keys["/payments/pay-9/capture"])
	}
	if keys["/payments/pay-9/cancel"] != "cancel-pay-9" {
		t.Errorf("cancel key = %q", keys["/payments/pay-9/cancel"])
	}
}

func TestInvalidAmountNeverHitsNetwork(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	ctx := context.Background()
	amounts := []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromInt(-1),
		decimal.RequireFromString("1.005"),
	}
	for _, a := range amounts {
		if _, err := c.CreateHold(ctx, CreateHoldRequest{Amount: a}); !errors.Is(err, money.ErrInvalidAmount) {
			t.Errorf("CreateHold(%s) = %v, want ErrInvalidAmount", a, err)
		}
		if _, err := c.CreateRefund(ctx, "pay-1", a, ""); !errors.Is(err, money.ErrInvalidAmount) {
			t.Errorf("CreateRefund(%s) = %v, want ErrInvalidAmount", a, err)
		}
		if _, err := c.CreatePayout(ctx, PayoutRequest{Amount: a, PayoutToken: "t", IdempotencyKey: "k"}); !errors.Is(err, money.ErrInvalidAmount) {
			t.Errorf("CreatePayout(%s) = %v, want ErrInvalidAmount", a, err)
		}
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("server hit %d times", hits)
	}
}

func TestErrorResponseBecomesGatewayError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","code":"invalid_request","description":"Payment is canceled"}`)
	})

	_, err := c.CaptureHold(context.Background(), "pay-1")
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if gwErr.Op != OpCaptureHold || gwErr.StatusCode != http.StatusBadRequest || gwErr.Code != "invalid_request" {
		t.Errorf("gateway error = %+v", gwErr)
	}
	if gwErr.Temporary() {
		t.Error("400 should not be temporary")
	}
}

func TestAcceptedIsNotSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"type":"processing","retry_after":1800}`)
	})

	_, err := c.CaptureHold(context.Background(), "pay-1")
	var gwErr *Error
	if !errors.As(err, &gwErr) || !gwErr.Temporary() {
		t.Fatalf("err = %v, want temporary *Error", err)
	}
}

func TestTimeoutIsGatewayError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewYooKassa(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	_, err := c.GetPayment(context.Background(), "pay-1")
	if !IsError(err) {
		t.Fatalf("err = %v, want gateway error", err)
	}
}

func TestCreatePayoutSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payouts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotence-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"id":"po-1","status":"succeeded","amount":{"value":"8500.00","currency":"RUB"}}`)
	})

	p, err := c.CreatePayout(context.Background(), PayoutRequest{
		Amount:         decimal.NewFromInt(8500),
		PayoutToken:    "tok",
		Description:    "payout",
		IdempotencyKey: "payout:h:c",
	})
	if err != nil {
		t.Fatalf("CreatePayout: %v", err)
	}
	if gotKey != "payout:h:c" {
		t.Errorf("idempotence key = %q", gotKey)
	}
	if body["payout_token"] != "tok" {
		t.Errorf("payout_token = %v", body["payout_token"])
	}
	if p.ID != "po-1" || !p.Amount.Equal(decimal.NewFromInt(8500)) {
		t.Errorf("payout = %+v", p)
	}
}
