// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/models"
)

// summaryStore serves fixed user summaries to the notifier.
type summaryStore struct {
	removalStore
	summaries map[int64]models.UserSummary
	roles     map[int64]models.Role
	findErr   error
}

func (s *summaryStore) FindUsersByIDs(ctx context.Context, ids []int64, roleFilter models.Role) ([]models.UserSummary, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []models.UserSummary
	for _, id := range ids {
		summary, ok := s.summaries[id]
		if !ok {
			continue
		}
		if roleFilter != "" && s.roles[id] != roleFilter {
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

func alertMessage(t *testing.T, alert events.LocationAlert) *message.Message {
	t.Helper()
	payload, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("marshal alert: %v", err)
	}
	return message.NewMessage("test", payload)
}

func wakeMessage(t *testing.T, wake events.SilentWake) *message.Message {
	t.Helper()
	payload, err := json.Marshal(wake)
	if err != nil {
		t.Fatalf("marshal wake: %v", err)
	}
	return message.NewMessage("test", payload)
}

func newTestNotifier(t *testing.T, store *summaryStore) (*Notifier, *fakeProvider) {
	t.Helper()
	bus, err := events.NewBus()
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	provider := &fakeProvider{}
	dispatcher := NewDispatcher(provider, store, 100, 0)
	return NewNotifier(bus, dispatcher, store, time.Second), provider
}

func TestHandleLocationAlert_PushesToAllTokenHolders(t *testing.T) {
	store := &summaryStore{
		summaries: map[int64]models.UserSummary{
			1: {ID: 1, Username: "mara", PushTokens: []string{expoToken(1), expoToken(2)}},
			2: {ID: 2, Username: "jens", PushTokens: []string{expoToken(3)}},
			3: {ID: 3, Username: "bare"},
		},
		roles: map[int64]models.Role{1: models.RoleParent, 2: models.RoleParent, 3: models.RoleParent},
	}
	n, provider := newTestNotifier(t, store)

	err := n.handleLocationAlert(alertMessage(t, events.LocationAlert{
		ChildID:   7,
		Username:  "timo",
		Latitude:  52.37,
		Longitude: 4.89,
		Timestamp: 1700000000000,
		ParentIDs: []int64{1, 2, 3},
	}))
	if err != nil {
		t.Fatalf("handleLocationAlert: %v", err)
	}

	if len(provider.chunks) != 1 {
		t.Fatalf("provider saw %d chunks, want 1", len(provider.chunks))
	}
	msgs := provider.chunks[0]
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3 (every token of every parent)", len(msgs))
	}
	if msgs[0].Title != "timo shared a location" {
		t.Errorf("title = %q", msgs[0].Title)
	}
	if msgs[0].Data["type"] != "location_update" {
		t.Errorf("data = %v, want a location_update", msgs[0].Data)
	}
}

func TestHandleLocationAlert_NoTokensIsNoop(t *testing.T) {
	store := &summaryStore{
		summaries: map[int64]models.UserSummary{1: {ID: 1, Username: "mara"}},
		roles:     map[int64]models.Role{1: models.RoleParent},
	}
	n, provider := newTestNotifier(t, store)

	err := n.handleLocationAlert(alertMessage(t, events.LocationAlert{
		ChildID:   7,
		ParentIDs: []int64{1},
	}))
	if err != nil {
		t.Fatalf("handleLocationAlert: %v", err)
	}
	if len(provider.chunks) != 0 {
		t.Error("no tokens should mean no provider calls")
	}
}

func TestHandleLocationAlert_MalformedPayloadDropped(t *testing.T) {
	n, provider := newTestNotifier(t, &summaryStore{})

	// Returning nil acks the message so the router does not retry garbage.
	if err := n.handleLocationAlert(message.NewMessage("test", []byte("{broken"))); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
	if len(provider.chunks) != 0 {
		t.Error("malformed payload must not trigger a send")
	}
}

func TestHandleLocationAlert_StoreFailureAcks(t *testing.T) {
	store := &summaryStore{findErr: errors.New("store down")}
	n, provider := newTestNotifier(t, store)

	// A directory read failure must ack, not nack: the gochannel redelivers
	// nacked messages forever, so one bad alert would wedge the whole topic.
	err := n.handleLocationAlert(alertMessage(t, events.LocationAlert{
		ChildID:   7,
		ParentIDs: []int64{1},
	}))
	if err != nil {
		t.Fatalf("store failure must be swallowed, got %v", err)
	}
	if len(provider.chunks) != 0 {
		t.Error("store failure must not trigger a send")
	}
}

func TestHandleSilentWake_StoreFailureAcks(t *testing.T) {
	store := &summaryStore{findErr: errors.New("store down")}
	n, provider := newTestNotifier(t, store)

	if err := n.handleSilentWake(wakeMessage(t, events.SilentWake{ChildID: 7})); err != nil {
		t.Fatalf("store failure must be swallowed, got %v", err)
	}
	if len(provider.chunks) != 0 {
		t.Error("store failure must not trigger a send")
	}
}

func TestHandleSilentWake(t *testing.T) {
	store := &summaryStore{
		summaries: map[int64]models.UserSummary{7: {ID: 7, Username: "timo", PushTokens: []string{expoToken(9)}}},
		roles:     map[int64]models.Role{7: models.RoleChild},
	}
	n, provider := newTestNotifier(t, store)

	if err := n.handleSilentWake(wakeMessage(t, events.SilentWake{ChildID: 7})); err != nil {
		t.Fatalf("handleSilentWake: %v", err)
	}

	if len(provider.chunks) != 1 || len(provider.chunks[0]) != 1 {
		t.Fatalf("provider chunks = %v, want one single-message chunk", provider.chunks)
	}
	msg := provider.chunks[0][0]
	if !msg.ContentAvailable || msg.Title != "" {
		t.Errorf("wake push = %+v, want silent", msg)
	}
	if msg.Data["action"] != "requestImmediateLocation" {
		t.Errorf("data = %v", msg.Data)
	}
}

func TestHandleSilentWake_UnknownChildIsNoop(t *testing.T) {
	n, provider := newTestNotifier(t, &summaryStore{})

	if err := n.handleSilentWake(wakeMessage(t, events.SilentWake{ChildID: 404})); err != nil {
		t.Fatalf("handleSilentWake: %v", err)
	}
	if len(provider.chunks) != 0 {
		t.Error("unknown child must not trigger a send")
	}
}

// TestBusDelivery exercises the full publish/consume path through the
// Watermill router.
func TestBusDelivery(t *testing.T) {
	store := &summaryStore{
		summaries: map[int64]models.UserSummary{1: {ID: 1, Username: "mara", PushTokens: []string{expoToken(1)}}},
		roles:     map[int64]models.Role{1: models.RoleParent},
	}

	bus, err := events.NewBus()
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	provider := &fakeProvider{}
	sent := make(chan struct{}, 1)
	dispatcher := NewDispatcher(&signalingProvider{inner: provider, sent: sent}, store, 100, 0)
	NewNotifier(bus, dispatcher, store, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()

	if err := bus.PublishLocationAlert(&events.LocationAlert{
		ChildID:   7,
		Username:  "timo",
		ParentIDs: []int64{1},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("published alert never reached the provider")
	}
	if len(provider.chunks) != 1 {
		t.Errorf("provider saw %d chunks, want 1", len(provider.chunks))
	}
}

// signalingProvider signals on a channel after delegating.
type signalingProvider struct {
	inner *fakeProvider
	sent  chan struct{}
}

func (p *signalingProvider) SendChunk(ctx context.Context, messages []Message) ([]Receipt, error) {
	receipts, err := p.inner.SendChunk(ctx, messages)
	select {
	case p.sent <- struct{}{}:
	default:
	}
	return receipts, err
}
