// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nestlink/nestlink/internal/models"
)

// fakeSender records delivered events for assertions.
type fakeSender struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSender) Send(event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func childEntry(connID string, userID int64) Entry {
	return Entry{
		ConnectionID: connID,
		UserID:       userID,
		Role:         models.RoleChild,
		Username:     fmt.Sprintf("child-%d", userID),
	}
}

func parentEntry(connID string, userID int64) Entry {
	return Entry{
		ConnectionID: connID,
		UserID:       userID,
		Role:         models.RoleParent,
		Username:     fmt.Sprintf("parent-%d", userID),
	}
}

func TestRegister_FirstChildConnectionIsPrimary(t *testing.T) {
	r := NewRegistry()

	if !r.Register(childEntry("conn-1", 7), &fakeSender{}) {
		t.Error("first child connection should register as primary")
	}
	if r.Register(childEntry("conn-2", 7), &fakeSender{}) {
		t.Error("second child connection should register as secondary")
	}
	if !r.IsChildOnline(7) {
		t.Error("child with a primary connection should be online")
	}

	connID, ok := r.PrimaryConnectionOf(7)
	if !ok || connID != "conn-1" {
		t.Errorf("PrimaryConnectionOf = %q, %v; want conn-1, true", connID, ok)
	}
}

func TestRegister_ParentNeverPrimary(t *testing.T) {
	r := NewRegistry()

	if r.Register(parentEntry("conn-1", 3), &fakeSender{}) {
		t.Error("parent connection must never register as primary")
	}
	if r.IsChildOnline(3) {
		t.Error("parent presence must not satisfy IsChildOnline")
	}
}

func TestUnregister_SecondaryDisconnectKeepsPrimary(t *testing.T) {
	r := NewRegistry()
	r.Register(childEntry("primary", 7), &fakeSender{})
	r.Register(childEntry("secondary", 7), &fakeSender{})

	r.Unregister("secondary", 7, models.RoleChild)

	if !r.IsChildOnline(7) {
		t.Error("secondary disconnect must not clear the primary signal")
	}
	connID, _ := r.PrimaryConnectionOf(7)
	if connID != "primary" {
		t.Errorf("primary connection = %q, want primary", connID)
	}
}

func TestUnregister_PrimaryDisconnectClearsSignal(t *testing.T) {
	r := NewRegistry()
	r.Register(childEntry("primary", 7), &fakeSender{})
	r.Register(childEntry("secondary", 7), &fakeSender{})

	r.Unregister("primary", 7, models.RoleChild)

	if r.IsChildOnline(7) {
		t.Error("primary disconnect must clear the online signal even with a secondary alive")
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
}

func TestUnregister_NextConnectionBecomesNewPrimary(t *testing.T) {
	r := NewRegistry()
	r.Register(childEntry("conn-1", 7), &fakeSender{})
	r.Unregister("conn-1", 7, models.RoleChild)

	if !r.Register(childEntry("conn-2", 7), &fakeSender{}) {
		t.Error("registration after the primary left should become the new primary")
	}
}

func TestUnregister_UnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register(childEntry("conn-1", 7), &fakeSender{})

	r.Unregister("never-registered", 7, models.RoleChild)
	r.Unregister("conn-1", 99, models.RoleChild)

	if !r.IsChildOnline(7) {
		t.Error("unrelated unregisters must not disturb presence state")
	}
}

func TestSendToUsers_FansOutToAllConnections(t *testing.T) {
	r := NewRegistry()
	a1, a2, b := &fakeSender{}, &fakeSender{}, &fakeSender{}
	r.Register(parentEntry("a1", 1), a1)
	r.Register(parentEntry("a2", 1), a2)
	r.Register(parentEntry("b", 2), b)

	r.SendToUsers([]int64{1, 2, 404}, "receive_location", nil)

	if a1.count() != 1 || a2.count() != 1 {
		t.Errorf("user 1 connections got %d/%d events, want 1/1", a1.count(), a2.count())
	}
	if b.count() != 1 {
		t.Errorf("user 2 got %d events, want 1", b.count())
	}
}

func TestSendToPrimary(t *testing.T) {
	r := NewRegistry()
	primary, secondary := &fakeSender{}, &fakeSender{}
	r.Register(childEntry("p", 7), primary)
	r.Register(childEntry("s", 7), secondary)

	if !r.SendToPrimary(7, "get_current_location", nil) {
		t.Fatal("SendToPrimary should succeed for an online child")
	}
	if primary.count() != 1 {
		t.Errorf("primary got %d events, want 1", primary.count())
	}
	if secondary.count() != 0 {
		t.Errorf("secondary got %d events, want 0", secondary.count())
	}

	r.Unregister("p", 7, models.RoleChild)
	if r.SendToPrimary(7, "get_current_location", nil) {
		t.Error("SendToPrimary should fail after the primary disconnects")
	}
}

func TestChildGroup_ParentJoinAndFanOut(t *testing.T) {
	r := NewRegistry()
	child, parent := &fakeSender{}, &fakeSender{}
	r.Register(childEntry("c", 7), child)
	r.Register(parentEntry("p", 1), parent)

	r.JoinChildGroup(7, "p", 1, parent)
	r.SendToChildGroup(7, "get_current_location", nil)

	if child.count() != 1 {
		t.Errorf("child got %d events, want 1", child.count())
	}
	if parent.count() != 1 {
		t.Errorf("joined parent got %d events, want 1", parent.count())
	}
}

func TestChildGroup_ParentDisconnectLeavesGroup(t *testing.T) {
	r := NewRegistry()
	child, parent := &fakeSender{}, &fakeSender{}
	r.Register(childEntry("c", 7), child)
	r.Register(parentEntry("p", 1), parent)
	r.JoinChildGroup(7, "p", 1, parent)

	r.Unregister("p", 1, models.RoleParent)
	r.SendToChildGroup(7, "receive_location", nil)

	if parent.count() != 0 {
		t.Errorf("disconnected parent got %d events, want 0", parent.count())
	}
	if child.count() != 1 {
		t.Errorf("child got %d events, want 1", child.count())
	}
}

func TestConnectionCount(t *testing.T) {
	r := NewRegistry()
	if got := r.ConnectionCount(); got != 0 {
		t.Fatalf("empty registry ConnectionCount = %d, want 0", got)
	}

	r.Register(childEntry("c", 7), &fakeSender{})
	r.Register(parentEntry("p", 1), &fakeSender{})
	if got := r.ConnectionCount(); got != 2 {
		t.Errorf("ConnectionCount = %d, want 2", got)
	}

	r.Unregister("c", 7, models.RoleChild)
	if got := r.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount after unregister = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := int64(n % 8)
			connID := fmt.Sprintf("conn-%d", n)
			r.Register(childEntry(connID, userID), &fakeSender{})
			r.SendToUsers([]int64{userID}, "receive_location", nil)
			r.Unregister(connID, userID, models.RoleChild)
		}(i)
	}
	wg.Wait()

	if got := r.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount after churn = %d, want 0", got)
	}
}
