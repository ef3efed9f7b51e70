// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package pairing issues and redeems the short-lived connection codes that
// link a parent account to a child account, and runs the mutual-link
// transaction against the directory store.
//
// A code's life is Active -> Consumed | Expired; both states are terminal.
// Consumed codes leave the index immediately; expired ones are retained
// briefly so redemption can tell the two apart. Codes are unique among all
// indexed codes and looked up case-insensitively.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
)

// codeAlphabet is the uppercase alphanumeric character set for codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// expiredGrace keeps an expired code in the index a little past its expiry,
// so a redemption that just missed the window is answered with the expired
// message rather than the generic invalid one. Consume and GetOrReissue
// check expiresAt, so a retained code is never redeemed or handed out.
const expiredGrace = 30 * time.Second

// liveCode is one entry in the live-code index.
type liveCode struct {
	value        string
	childID      int64
	connectionID string
	expiresAt    time.Time
	timer        *time.Timer
}

// CodeService owns the live-code index. All operations are atomic with
// respect to their read-check-write sequence; the index mutex covers the
// whole map because uniqueness is a cross-code invariant.
type CodeService struct {
	mu     sync.Mutex
	codes  map[string]*liveCode
	byConn map[string]*liveCode

	length int
	ttl    time.Duration

	// now is replaced in tests to control expiry.
	now func() time.Time
}

// NewCodeService creates a code service issuing codes of the given length
// with the given time-to-live.
func NewCodeService(length int, ttl time.Duration) *CodeService {
	return &CodeService{
		codes:  make(map[string]*liveCode),
		byConn: make(map[string]*liveCode),
		length: length,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueCode generates a fresh code for the child's connection, replacing any
// code previously tied to that connection. The expiry timer removes the code
// only if it is still the same code tied to the same connection at fire time.
func (s *CodeService) IssueCode(childID int64, connectionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(childID, connectionID)
}

// issueLocked generates, indexes, and arms expiry for a new code.
// Caller holds s.mu.
func (s *CodeService) issueLocked(childID int64, connectionID string) (string, error) {
	if old, ok := s.byConn[connectionID]; ok {
		s.removeLocked(old)
	}

	var value string
	for {
		generated, err := randomCode(s.length)
		if err != nil {
			return "", fmt.Errorf("generate connection code: %w", err)
		}
		// Re-roll on collision against the live index.
		if _, exists := s.codes[generated]; !exists {
			value = generated
			break
		}
	}

	code := &liveCode{
		value:        value,
		childID:      childID,
		connectionID: connectionID,
		expiresAt:    s.now().Add(s.ttl),
	}
	code.timer = time.AfterFunc(s.ttl+expiredGrace, func() { s.expire(code) })
	s.codes[value] = code
	s.byConn[connectionID] = code

	metrics.CodesIssued.Inc()
	logging.Debug().Int64("child_id", childID).Str("connection_id", connectionID).Msg("connection code issued")
	return value, nil
}

// GetOrReissue returns the unexpired code already issued to this exact
// connection, or issues a fresh one. Covers clients re-requesting their code
// after a reconnect.
func (s *CodeService) GetOrReissue(childID int64, connectionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.byConn[connectionID]; ok && code.childID == childID && s.now().Before(code.expiresAt) {
		return code.value, nil
	}
	return s.issueLocked(childID, connectionID)
}

// Consume redeems a code, removing it from the live index. Lookup is
// case-insensitive. An expired code is removed as a side effect, so it can
// never again satisfy Consume. Linking itself is a separate step so the
// caller can short-circuit already-linked pairs.
func (s *CodeService) Consume(value string) (childID int64, err error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[normalized]
	if !ok {
		return 0, models.ErrInvalidCode
	}
	if !s.now().Before(code.expiresAt) {
		s.removeLocked(code)
		metrics.CodesExpired.Inc()
		return 0, models.ErrExpiredCode
	}

	s.removeLocked(code)
	metrics.CodesConsumed.Inc()
	return code.childID, nil
}

// RemoveForConnection drops any code tied to the connection. Called on
// primary disconnect; idempotent.
func (s *CodeService) RemoveForConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.byConn[connectionID]; ok {
		s.removeLocked(code)
	}
}

// expire is the timer callback. It re-validates that the code it was armed
// for is still the live entry for that value and connection: a code that was
// already consumed or replaced must not be removed again.
func (s *CodeService) expire(code *liveCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.codes[code.value]
	if !ok || current != code {
		return
	}
	s.removeLocked(code)
	metrics.CodesExpired.Inc()
	logging.Debug().Int64("child_id", code.childID).Msg("connection code expired")
}

// removeLocked deletes a code from both indexes and stops its timer.
// Caller holds s.mu.
func (s *CodeService) removeLocked(code *liveCode) {
	delete(s.codes, code.value)
	if current, ok := s.byConn[code.connectionID]; ok && current == code {
		delete(s.byConn, code.connectionID)
	}
	if code.timer != nil {
		code.timer.Stop()
	}
}

// LiveCount returns the number of live codes. Used by tests and health.
func (s *CodeService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// randomCode draws length characters uniformly from codeAlphabet.
func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
