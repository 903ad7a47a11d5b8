package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operation names, shared by every Client implementation.
const (
	OpCreateHold   = "create_hold"
	OpCaptureHold  = "capture_hold"
	OpCancelHold   = "cancel_hold"
	OpCreateRefund = "create_refund"
	OpGetPayment   = "get_payment"
	OpCreatePayout = "create_payout"
)

type Options struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	Currency  string
	ReturnURL string
	Timeout   time.Duration
}

// YooKassa is the REST client for api.yookassa.ru/v3.
type YooKassa struct {
	opts       Options
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time
}

func NewYooKassa(opts Options, log *zap.Logger) *YooKassa {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "RUB"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &YooKassa{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		log: log,
		now: time.Now,
	}
}

type amountJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paymentJSON struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Paid         bool       `json:"paid"`
	Amount       amountJSON `json:"amount"`
	Confirmation *struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p paymentJSON) toPayment() (*Payment, error) {
	amount, err := decimal.NewFromString(p.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("payment %s amount %q: %w", p.ID, p.Amount.Value, err)
	}
	out := &Payment{
		ID:        p.ID,
		Status:    p.Status,
		Paid:      p.Paid,
		Amount:    amount,
		ExpiresAt: p.ExpiresAt,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
	}
	if p.Confirmation != nil {
		out.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	return out, nil
}

func (c *YooKassa) amount(d decimal.Decimal) amountJSON {
	return amountJSON{Value: money.Format(d), Currency: c.opts.Currency}
}

func (c *YooKassa) CreateHold(ctx context.Context, req CreateHoldRequest) (*Payment, error) {
	if err := money.Validate(req.Amount); err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if !req.ExpiresAt.IsZero() {
		metadata["hold_expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}

	body := map[string]any{
		"amount":  c.amount(req.Amount),
		"capture": false, // двухстадийный платёж: только холд
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": c.opts.ReturnURL,
		},
		"description": req.Description,
		"metadata":    metadata,
	}

	var resp paymentJSON
	if err := c.do(ctx, OpCreateHold, http.MethodPost, "/payments", newKey("hold", c.now()), body, &resp); err != nil {
		return nil, err
	}
	return c.payment(OpCreateHold, resp)
}

func (c *YooKassa) CaptureHold(ctx context.Context, paymentID string) (*Payment, error) {
	var resp paymentJSON
	path := "/payments/" + url.PathEscape(paymentID) + "/capture"
	if err := c.do(ctx, OpCaptureHold, http.MethodPost, path, captureKey(paymentID), map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return c.payment(OpCaptureHold, resp)
}

func (c *YooKassa) CancelHold(ctx context.Context, paymentID string) (*Payment, error) {
	var resp paymentJSON
	path := "/payments/" + url.PathEscape(paymentID) + "/cancel"
	if err := c.do(ctx, OpCancelHold, http.MethodPost, path, cancelKey(paymentID), map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return c.payment(OpCancelHold, resp)
}

func (c *YooKassa) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var resp paymentJSON
	if err := c.do(ctx, OpGetPayment, http.MethodGet, "/payments/"+url.PathEscape(paymentID), "", nil, &resp); err != nil {
		return nil, err
	}
	return c.payment(OpGetPayment, resp)
}

func (c *YooKassa) CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, description string) (*Refund, error) {
	if err := money.Validate(amount); err != nil {
		return nil, err
	}

	body := map[string]any{
		"payment_id":  paymentID,
		"amount":      c.amount(amount),
		"description": description,
	}

	var resp struct {
		ID        string     `json:"id"`
		PaymentID string     `json:"payment_id"`
		Status    string     `json:"status"`
		Amount    amountJSON `json:"amount"`
	}
	if err := c.do(ctx, OpCreateRefund, http.MethodPost, "/refunds", newKey("refund", c.now()), body, &resp); err != nil {
		return nil, err
	}
	refunded, err := decimal.NewFromString(resp.Amount.Value)
	if err != nil {
		return nil, &Error{Op: OpCreateRefund, Cause: fmt.Errorf("refund amount %q: %w", resp.Amount.Value, err)}
	}
	return &Refund{ID: resp.ID, PaymentID: resp.PaymentID, Status: resp.Status, Amount: refunded}, nil
}

func (c *YooKassa) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	if err := money.Validate(req.Amount); err != nil {
		return nil, err
	}
	if req.PayoutToken == "" {
		return nil, &Error{Op: OpCreatePayout, Cause: errors.New("payout token is empty")}
	}
	if req.IdempotencyKey == "" {
		return nil, &Error{Op: OpCreatePayout, Cause: errors.New("idempotency key is required")}
	}

	body := map[string]any{
		"amount":       c.amount(req.Amount),
		"payout_token": req.PayoutToken,
		"description":  req.Description,
		"metadata":     req.Metadata,
	}

	var resp struct {
		ID     string     `json:"id"`
		Status string     `json:"status"`
		Amount amountJSON `json:"amount"`
	}
	if err := c.do(ctx, OpCreatePayout, http.MethodPost, "/payouts", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	paid, err := decimal.NewFromString(resp.Amount.Value)
	if err != nil {
		return nil, &Error{Op: OpCreatePayout, Cause: fmt.Errorf("payout amount %q: %w", resp.Amount.Value, err)}
	}
	return &Payout{ID: resp.ID, Status: resp.Status, Amount: paid}, nil
}

func (c *YooKassa) payment(op string, p paymentJSON) (*Payment, error) {
	out, err := p.toPayment()
	if err != nil {
		return nil, &Error{Op: op, Cause: err}
	}
	return out, nil
}

func (c *YooKassa) do(ctx context.Context, op, method, path, idempotenceKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Cause: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Cause: err}
	}
	req.SetBasicAuth(c.opts.ShopID, c.opts.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Cause: err}
	}

	c.log.Debug("gateway call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", c.now().Sub(start)),
	)

	// 202: processor accepted the request but has no result yet.
	if resp.StatusCode == http.StatusAccepted {
		return &Error{Op: op, StatusCode: resp.StatusCode, Cause: errors.New("request in progress, retry later")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Code: apiErr.Code, Cause: errors.New(msg)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Op: op, StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
