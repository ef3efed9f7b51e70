// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Message is one push notification in the provider's wire format. A message
// with no title and no body is a silent (content-only) push.
type Message struct {
	To    string                 `json:"to"`
	Title string                 `json:"title,omitempty"`
	Body  string                 `json:"body,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`

	// Priority "high" asks the OS to deliver promptly even in doze.
	Priority string `json:"priority,omitempty"`

	// ContentAvailable marks iOS silent pushes that wake background
	// processing without alerting the user.
	ContentAvailable bool `json:"_contentAvailable,omitempty"`
}

// ReceiptErrorDeviceNotRegistered is the provider's permanent-failure reason:
// the token will never work again and must be removed.
const ReceiptErrorDeviceNotRegistered = "DeviceNotRegistered"

// Receipt is the provider's per-message outcome.
type Receipt struct {
	Status  string `json:"status"` // "ok" or "error"
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// OK reports successful acceptance.
func (r *Receipt) OK() bool {
	return r.Status == "ok"
}

// Unregistered reports the permanent device-gone failure.
func (r *Receipt) Unregistered() bool {
	return r.Status == "error" && r.Details.Error == ReceiptErrorDeviceNotRegistered
}

// Provider sends one chunk of messages and returns per-message receipts in
// the same order. A transport or provider-level failure fails the whole
// chunk; per-message failures come back as error receipts.
type Provider interface {
	SendChunk(ctx context.Context, messages []Message) ([]Receipt, error)
}

// HTTPProvider talks to the Expo push HTTP API. Calls are wrapped in a
// circuit breaker so a dead provider fails fast instead of holding every
// dispatch until timeout.
type HTTPProvider struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]Receipt]
}

// HTTPProviderConfig configures the provider client.
type HTTPProviderConfig struct {
	URL              string
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewHTTPProvider creates a provider client.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "push-provider",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}

	return &HTTPProvider{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[[]Receipt](settings),
	}
}

// SendChunk posts one chunk to the provider and parses the receipts.
func (p *HTTPProvider) SendChunk(ctx context.Context, messages []Message) ([]Receipt, error) {
	return p.breaker.Execute(func() ([]Receipt, error) {
		return p.post(ctx, messages)
	})
}

func (p *HTTPProvider) post(ctx context.Context, messages []Message) ([]Receipt, error) {
	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal push chunk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount for the error message; the provider's error
		// bodies are small JSON blobs.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("push provider returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed struct {
		Data []Receipt `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode push receipts: %w", err)
	}
	if len(parsed.Data) != len(messages) {
		return nil, fmt.Errorf("push provider returned %d receipts for %d messages", len(parsed.Data), len(messages))
	}
	return parsed.Data, nil
}
