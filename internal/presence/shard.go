// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package presence

import (
	"sync"

	"github.com/nestlink/nestlink/internal/models"
)

// shardCount is a power of two so shard selection is a mask.
const shardCount = 32

// shard holds the presence state for a slice of the user-id space. Each
// mutating operation is a single critical section per shard, which keeps
// check-then-act sequences (register-if-no-primary, remove-if-primary)
// atomic per key without serializing unrelated users.
type shard struct {
	mu sync.RWMutex

	// users maps user id to that user's live connections.
	users map[int64]*userState

	// groups maps child id to the broadcast group membership
	// (connection id -> sender).
	groups map[int64]map[string]Sender
}

func newShard() *shard {
	return &shard{
		users:  make(map[int64]*userState),
		groups: make(map[int64]map[string]Sender),
	}
}

func (r *Registry) shard(userID int64) *shard {
	return r.shards[uint64(userID)&(shardCount-1)]
}

// register adds a connection, returning true if it became a child's primary.
func (s *shard) register(entry Entry, sender Sender) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[entry.UserID]
	if !ok {
		state = &userState{
			role:  entry.Role,
			conns: make(map[string]*connRecord),
		}
		s.users[entry.UserID] = state
	}
	state.conns[entry.ConnectionID] = &connRecord{sender: sender}

	if entry.Role == models.RoleChild && state.primaryConnID == "" {
		state.primaryConnID = entry.ConnectionID
		return true
	}
	return false
}

// unregister removes a connection and returns the rooms it had joined.
// If the connection was a child's primary, the primary signal is cleared;
// a secondary's departure leaves the primary untouched.
func (s *shard) unregister(connectionID string, userID int64) (rooms []int64, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	rec, ok := state.conns[connectionID]
	if !ok {
		return nil, false
	}
	delete(state.conns, connectionID)

	if state.primaryConnID == connectionID {
		state.primaryConnID = ""
	}
	if len(state.conns) == 0 {
		delete(s.users, userID)
	}
	return rec.rooms, true
}

// noteRoom records that a connection joined a child's broadcast group, so
// unregister can tear the membership down.
func (s *shard) noteRoom(userID int64, connectionID string, childID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[userID]
	if !ok {
		return
	}
	rec, ok := state.conns[connectionID]
	if !ok {
		return
	}
	for _, existing := range rec.rooms {
		if existing == childID {
			return
		}
	}
	rec.rooms = append(rec.rooms, childID)
}

// primary returns the child's primary connection id.
func (s *shard) primary(userID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok || state.primaryConnID == "" {
		return "", false
	}
	return state.primaryConnID, true
}

// primarySender returns the sender of the child's primary connection.
func (s *shard) primarySender(userID int64) (Sender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok || state.primaryConnID == "" {
		return nil, false
	}
	rec, ok := state.conns[state.primaryConnID]
	if !ok {
		return nil, false
	}
	return rec.sender, true
}

// senders snapshots every live sender for a user.
func (s *shard) senders(userID int64) []Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(state.conns))
	for _, rec := range state.conns {
		out = append(out, rec.sender)
	}
	return out
}

// joinGroup adds a connection to a child's broadcast group.
func (s *shard) joinGroup(childID int64, connectionID string, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[childID]
	if !ok {
		group = make(map[string]Sender)
		s.groups[childID] = group
	}
	group[connectionID] = sender
}

// leaveGroup removes a connection from a child's broadcast group.
func (s *shard) leaveGroup(childID int64, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[childID]
	if !ok {
		return
	}
	delete(group, connectionID)
	if len(group) == 0 {
		delete(s.groups, childID)
	}
}

// groupSenders snapshots a child's broadcast group membership.
func (s *shard) groupSenders(childID int64) []Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[childID]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(group))
	for _, sender := range group {
		out = append(out, sender)
	}
	return out
}

// connectionCount returns live connections in this shard.
func (s *shard) connectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, state := range s.users {
		total += len(state.conns)
	}
	return total
}
