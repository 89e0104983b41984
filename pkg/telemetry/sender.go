package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InstrumentationKeyHeader carries the configured instrumentation key.
const InstrumentationKeyHeader = "X-Instrumentation-Key"

// Sender delivers one batch of events.
type Sender interface {
	Send(ctx context.Context, items []Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, items []Event) error

func (f SenderFunc) Send(ctx context.Context, items []Event) error {
	return f(ctx, items)
}

type batch struct {
	Items []Event `json:"items"`
}

// HTTPSender posts batches as {"items": [...]} to an endpoint. A completed call is a
// successful delivery; the response status and body are not inspected.
type HTTPSender struct {
	endpoint           string
	instrumentationKey string
	client             *http.Client
}

// NewHTTPSender creates a sender. A nil client gets a 10 second timeout.
func NewHTTPSender(endpoint, instrumentationKey string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSender{endpoint: endpoint, instrumentationKey: instrumentationKey, client: client}
}

func (s *HTTPSender) Send(ctx context.Context, items []Event) error {
	payload, err := json.Marshal(batch{Items: items})
	if err != nil {
		return fmt.Errorf("encode telemetry batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.instrumentationKey != "" {
		req.Header.Set(InstrumentationKeyHeader, s.instrumentationKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telemetry batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
