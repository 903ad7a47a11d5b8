package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/events"
	"go.uber.org/zap"
)

// DispatchClient forwards notification events to the external dispatcher
// (push/SMS/email fan-out lives there).
type DispatchClient struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

func NewDispatchClient(url string, log *zap.Logger) *DispatchClient {
	return &DispatchClient{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type dispatchRequest struct {
	UserID  string         `json:"userId"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (c *DispatchClient) Send(ctx context.Context, ev events.Event) error {
	if ev.UserID == "" {
		return fmt.Errorf("dispatch %s: empty user id", ev.Type)
	}
	body, err := json.Marshal(dispatchRequest{UserID: ev.UserID, Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcher unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("dispatcher returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
