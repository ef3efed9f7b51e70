// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package pairing

import (
	"context"
	"errors"
	"testing"

	"github.com/nestlink/nestlink/internal/models"
)

// fakeStore is an in-memory directory.Store for link transaction tests.
type fakeStore struct {
	users map[int64]*models.Identity

	addLinkErrs int // number of AddLink calls that fail before succeeding
	addLinkCall int
	linkedErr   error
}

func newFakeStore(users ...*models.Identity) *fakeStore {
	s := &fakeStore{users: make(map[int64]*models.Identity)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) FindUser(ctx context.Context, id int64) (*models.Identity, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeStore) FindLinkedIDs(ctx context.Context, userID int64) ([]int64, error) {
	if s.linkedErr != nil {
		return nil, s.linkedErr
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]int64(nil), user.LinkedUserIDs...), nil
}

func (s *fakeStore) FindUsersByIDs(ctx context.Context, ids []int64, roleFilter models.Role) ([]models.UserSummary, error) {
	var out []models.UserSummary
	for _, id := range ids {
		user, ok := s.users[id]
		if !ok {
			continue
		}
		if roleFilter != "" && user.Role != roleFilter {
			continue
		}
		out = append(out, models.UserSummary{ID: user.ID, Username: user.Username, PushTokens: user.PushTokens})
	}
	return out, nil
}

func (s *fakeStore) AddLink(ctx context.Context, aID, bID int64) error {
	s.addLinkCall++
	if s.addLinkCall <= s.addLinkErrs {
		return errors.New("transient write failure")
	}
	a, b := s.users[aID], s.users[bID]
	if !a.Linked(bID) {
		a.LinkedUserIDs = append(a.LinkedUserIDs, bID)
	}
	if !b.Linked(aID) {
		b.LinkedUserIDs = append(b.LinkedUserIDs, aID)
	}
	return nil
}

func (s *fakeStore) AddPushToken(ctx context.Context, userID int64, token string) error {
	user, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	for _, existing := range user.PushTokens {
		if existing == token {
			return nil
		}
	}
	user.PushTokens = append(user.PushTokens, token)
	return nil
}

func (s *fakeStore) RemoveTokens(ctx context.Context, tokens []string) error {
	remove := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		remove[token] = true
	}
	for _, user := range s.users {
		kept := user.PushTokens[:0]
		for _, token := range user.PushTokens {
			if !remove[token] {
				kept = append(kept, token)
			}
		}
		user.PushTokens = kept
	}
	return nil
}

func parent(id int64, linked ...int64) *models.Identity {
	return &models.Identity{ID: id, Username: "parent", Role: models.RoleParent, LinkedUserIDs: linked}
}

func child(id int64, linked ...int64) *models.Identity {
	return &models.Identity{ID: id, Username: "kiddo", Role: models.RoleChild, LinkedUserIDs: linked}
}

func TestLinkUsers_Success(t *testing.T) {
	store := newFakeStore(parent(1), child(2))
	linker := NewLinker(store)

	result, err := linker.LinkUsers(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("LinkUsers: %v", err)
	}
	if result.ChildID != 2 || result.ChildUsername != "kiddo" {
		t.Errorf("result = %+v, want child 2 %q", result, "kiddo")
	}
	if len(result.ParentLinkedIDs) != 1 || result.ParentLinkedIDs[0] != 2 {
		t.Errorf("ParentLinkedIDs = %v, want [2]", result.ParentLinkedIDs)
	}
	// Symmetric: both records carry the link.
	if !store.users[1].Linked(2) || !store.users[2].Linked(1) {
		t.Error("link must be recorded on both sides")
	}
}

func TestLinkUsers_SelfLink(t *testing.T) {
	linker := NewLinker(newFakeStore(parent(1)))

	if _, err := linker.LinkUsers(context.Background(), 1, 1); !errors.Is(err, models.ErrSelfLink) {
		t.Errorf("err = %v, want ErrSelfLink", err)
	}
}

func TestLinkUsers_RoleConflict(t *testing.T) {
	tests := []struct {
		name string
		a, b *models.Identity
	}{
		{name: "two parents", a: parent(1), b: &models.Identity{ID: 2, Role: models.RoleParent}},
		{name: "two children", a: child(1), b: &models.Identity{ID: 2, Role: models.RoleChild}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linker := NewLinker(newFakeStore(tt.a, tt.b))
			if _, err := linker.LinkUsers(context.Background(), 1, 2); !errors.Is(err, models.ErrRoleConflict) {
				t.Errorf("err = %v, want ErrRoleConflict", err)
			}
		})
	}
}

func TestLinkUsers_UnknownUser(t *testing.T) {
	linker := NewLinker(newFakeStore(parent(1)))

	if _, err := linker.LinkUsers(context.Background(), 1, 999); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestLinkUsers_AlreadyLinkedShortCircuits(t *testing.T) {
	store := newFakeStore(parent(1, 2), child(2, 1))
	linker := NewLinker(store)

	result, err := linker.LinkUsers(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("LinkUsers on linked pair: %v", err)
	}
	if store.addLinkCall != 0 {
		t.Errorf("AddLink called %d times for an already linked pair, want 0", store.addLinkCall)
	}
	if len(result.ParentLinkedIDs) != 1 {
		t.Errorf("ParentLinkedIDs = %v, want the existing single link", result.ParentLinkedIDs)
	}
}

func TestLinkUsers_RetriesTransientWriteFailure(t *testing.T) {
	store := newFakeStore(parent(1), child(2))
	store.addLinkErrs = 1
	linker := NewLinker(store)

	if _, err := linker.LinkUsers(context.Background(), 1, 2); err != nil {
		t.Fatalf("LinkUsers should survive one transient failure: %v", err)
	}
	if !store.users[1].Linked(2) {
		t.Error("link should be persisted after retry")
	}
}

func TestLinkUsers_PersistFailureAfterRetry(t *testing.T) {
	store := newFakeStore(parent(1), child(2))
	store.addLinkErrs = 2
	linker := NewLinker(store)

	_, err := linker.LinkUsers(context.Background(), 1, 2)
	if !errors.Is(err, models.ErrLinkPersist) {
		t.Fatalf("err = %v, want ErrLinkPersist", err)
	}
	// No partial link may remain visible.
	if store.users[1].Linked(2) || store.users[2].Linked(1) {
		t.Error("failed transaction must not leave a partial link")
	}
}
