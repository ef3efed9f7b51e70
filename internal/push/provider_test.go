// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func testProvider(url string) *HTTPProvider {
	return NewHTTPProvider(HTTPProviderConfig{
		URL:              url,
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	})
}

func TestSendChunk_ParsesReceipts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var messages []Message
		if err := json.NewDecoder(r.Body).Decode(&messages); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(messages) != 2 {
			t.Errorf("got %d messages, want 2", len(messages))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"status": "ok"},
				{"status": "error", "message": "gone", "details": map[string]string{"error": "DeviceNotRegistered"}},
			},
		})
	}))
	defer srv.Close()

	receipts, err := testProvider(srv.URL).SendChunk(context.Background(), []Message{
		{To: "ExponentPushToken[a]", Title: "hi"},
		{To: "ExponentPushToken[b]", Title: "hi"},
	})
	if err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("got %d receipts, want 2", len(receipts))
	}
	if !receipts[0].OK() {
		t.Errorf("receipt 0 = %+v, want ok", receipts[0])
	}
	if !receipts[1].Unregistered() {
		t.Errorf("receipt 1 = %+v, want DeviceNotRegistered", receipts[1])
	}
}

func TestSendChunk_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":["rate limited"]}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testProvider(srv.URL).SendChunk(context.Background(), []Message{{To: "ExponentPushToken[a]"}})
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
}

func TestSendChunk_ReceiptCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}))
	defer srv.Close()

	_, err := testProvider(srv.URL).SendChunk(context.Background(), []Message{
		{To: "ExponentPushToken[a]"},
		{To: "ExponentPushToken[b]"},
	})
	if err == nil {
		t.Fatal("expected an error when receipt count does not match message count")
	}
}

func TestSendChunk_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := testProvider(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := provider.SendChunk(context.Background(), []Message{{To: "ExponentPushToken[a]"}})
		if err == nil {
			t.Fatal("expected failures against a broken provider")
		}
	}
	// The breaker trips after 3 consecutive failures; later calls fail fast
	// without reaching the server.
	if hits >= 5 {
		t.Errorf("server hit %d times, want the breaker to shed calls after 3", hits)
	}
}
