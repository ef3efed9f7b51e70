// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/nestlink/nestlink/internal/models"
)

// Key prefixes for badger storage.
const (
	userKeyPrefix  = "user:"
	tokenKeyPrefix = "token:"
)

// conflictRetries bounds optimistic-transaction retries when concurrent
// handlers mutate the same user record.
const conflictRetries = 3

// BadgerStore implements Store on BadgerDB. User records are stored as JSON
// under user:<id>; a token:<token> reverse index maps each push token to its
// owning user id so bulk removal does not scan all users.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a directory store on an open badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Open opens (or creates) a badger database for directory storage.
// Pass inMemory=true for tests and ephemeral deployments.
func Open(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open directory store: %w", err)
	}
	return db, nil
}

// Healthy reports whether the database is open and can serve a read
// transaction.
func (s *BadgerStore) Healthy() bool {
	if s.db.IsClosed() {
		return false
	}
	return s.db.View(func(txn *badger.Txn) error { return nil }) == nil
}

func userKey(id int64) []byte {
	return []byte(userKeyPrefix + strconv.FormatInt(id, 10))
}

func tokenKey(token string) []byte {
	return []byte(tokenKeyPrefix + token)
}

// PutUser writes a full identity record. Used by seeding and by the external
// registration surface; the relay core never creates users.
func (s *BadgerStore) PutUser(ctx context.Context, user *models.Identity) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(userKey(user.ID), data); err != nil {
			return err
		}
		for _, token := range user.PushTokens {
			if err := txn.Set(tokenKey(token), userKey(user.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindUser returns the identity for the id, or models.ErrUserNotFound.
func (s *BadgerStore) FindUser(ctx context.Context, id int64) (*models.Identity, error) {
	var user models.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		return readUser(txn, id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// readUser loads and unmarshals one user record inside a transaction.
func readUser(txn *badger.Txn, id int64, out *models.Identity) error {
	item, err := txn.Get(userKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("get user %d: %w", id, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// writeUser marshals and stores one user record inside a transaction.
func writeUser(txn *badger.Txn, user *models.Identity) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user %d: %w", user.ID, err)
	}
	return txn.Set(userKey(user.ID), data)
}

// FindLinkedIDs returns the user's linked ids. Missing users degrade to an
// empty result.
func (s *BadgerStore) FindLinkedIDs(ctx context.Context, userID int64) ([]int64, error) {
	user, err := s.FindUser(ctx, userID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.LinkedUserIDs, nil
}

// FindUsersByIDs resolves ids to summaries, optionally filtered by role.
func (s *BadgerStore) FindUsersByIDs(ctx context.Context, ids []int64, roleFilter models.Role) ([]models.UserSummary, error) {
	summaries := make([]models.UserSummary, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var user models.Identity
			err := readUser(txn, id, &user)
			if errors.Is(err, models.ErrUserNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if roleFilter != "" && user.Role != roleFilter {
				continue
			}
			summaries = append(summaries, models.UserSummary{
				ID:         user.ID,
				Username:   user.Username,
				PushTokens: user.PushTokens,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// AddLink records a symmetric link in one transaction. Linking an already
// linked pair is a no-op, so redeeming a consumed-but-unexpired code twice
// never issues a duplicate write.
func (s *BadgerStore) AddLink(ctx context.Context, aID, bID int64) error {
	if aID == bID {
		return models.ErrSelfLink
	}
	return s.update(func(txn *badger.Txn) error {
		var a, b models.Identity
		if err := readUser(txn, aID, &a); err != nil {
			return err
		}
		if err := readUser(txn, bID, &b); err != nil {
			return err
		}
		if a.Linked(bID) && b.Linked(aID) {
			return nil
		}
		if !a.Linked(bID) {
			a.LinkedUserIDs = append(a.LinkedUserIDs, bID)
		}
		if !b.Linked(aID) {
			b.LinkedUserIDs = append(b.LinkedUserIDs, aID)
		}
		if err := writeUser(txn, &a); err != nil {
			return err
		}
		return writeUser(txn, &b)
	})
}

// AddPushToken attaches a token to the user and indexes it for removal.
func (s *BadgerStore) AddPushToken(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return fmt.Errorf("empty push token")
	}
	return s.update(func(txn *badger.Txn) error {
		var user models.Identity
		if err := readUser(txn, userID, &user); err != nil {
			return err
		}
		for _, existing := range user.PushTokens {
			if existing == token {
				return nil
			}
		}
		user.PushTokens = append(user.PushTokens, token)
		if err := writeUser(txn, &user); err != nil {
			return err
		}
		return txn.Set(tokenKey(token), userKey(userID))
	})
}

// RemoveTokens deletes tokens from their owning users via the reverse index.
// Unknown tokens are skipped.
func (s *BadgerStore) RemoveTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.update(func(txn *badger.Txn) error {
		// Group tokens by owning user so each record is rewritten once.
		byUser := make(map[int64][]string)
		for _, token := range tokens {
			item, err := txn.Get(tokenKey(token))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var ownerID int64
			err = item.Value(func(val []byte) error {
				id, perr := strconv.ParseInt(string(val[len(userKeyPrefix):]), 10, 64)
				ownerID = id
				return perr
			})
			if err != nil {
				return err
			}
			byUser[ownerID] = append(byUser[ownerID], token)
		}

		for ownerID, owned := range byUser {
			var user models.Identity
			err := readUser(txn, ownerID, &user)
			if errors.Is(err, models.ErrUserNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			remove := make(map[string]bool, len(owned))
			for _, token := range owned {
				remove[token] = true
			}
			kept := user.PushTokens[:0]
			for _, token := range user.PushTokens {
				if !remove[token] {
					kept = append(kept, token)
				}
			}
			user.PushTokens = kept
			if err := writeUser(txn, &user); err != nil {
				return err
			}
		}

		for _, token := range tokens {
			if err := txn.Delete(tokenKey(token)); err != nil {
				return err
			}
		}
		return nil
	})
}

// update runs a read-modify-write transaction, retrying on optimistic
// conflicts when concurrent handlers touch the same records.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
