// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package presence tracks which users are connected and over which sockets.
//
// A child may hold several simultaneous connections (foreground app plus
// short-lived background wake-ups) but exactly one is the primary: the first
// connection registered while no primary exists. Only the primary's
// disconnect clears the child's "app is open" signal that the refresh
// coordinator relies on. Every connection, primary or secondary, joins the
// child's broadcast group; parents join the same group via join_child_room.
//
// State is sharded by user id so unrelated children's traffic never contends
// on one lock.
package presence

import (
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
)

// Sender delivers one outbound event to a single connection. Implementations
// must not block; delivery is best-effort.
type Sender interface {
	Send(event string, payload interface{})
}

// Entry describes one registered connection.
type Entry struct {
	ConnectionID  string
	UserID        int64
	Role          models.Role
	Username      string
	LinkedUserIDs []int64
}

// connRecord is one live connection plus the broadcast groups it joined.
type connRecord struct {
	sender Sender
	rooms  []int64
}

// userState is all live connections for one user id.
type userState struct {
	role  models.Role
	conns map[string]*connRecord

	// primaryConnID is set for children only: the single connection treated
	// as "the app is open". Empty when the child has no primary.
	primaryConnID string
}

// Registry is the in-memory presence registry.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

// Register records a connection. For children, the first registration while
// no primary exists becomes the primary; later ones are secondaries. Every
// child connection joins the child's own broadcast group. Returns true if the
// connection became the child's primary (always false for parents).
func (r *Registry) Register(entry Entry, sender Sender) bool {
	sh := r.shard(entry.UserID)
	primary := sh.register(entry, sender)

	if entry.Role == models.RoleChild {
		// Child's own connections are group members regardless of
		// primary/secondary status.
		r.shard(entry.UserID).joinGroup(entry.UserID, entry.ConnectionID, sender)
		sh.noteRoom(entry.UserID, entry.ConnectionID, entry.UserID)
	}

	metrics.SocketConnections.WithLabelValues(string(entry.Role)).Inc()
	logging.Info().
		Str("connection_id", entry.ConnectionID).
		Int64("user_id", entry.UserID).
		Str("role", string(entry.Role)).
		Bool("primary", primary).
		Msg("connection registered")
	return primary
}

// Unregister tears down a connection's presence state: its sender, its group
// memberships, and (for a child's primary) the primary signal. Disconnecting
// a secondary never clears the primary. Idempotent: unknown connections are
// a no-op.
func (r *Registry) Unregister(connectionID string, userID int64, role models.Role) {
	sh := r.shard(userID)
	rooms, existed := sh.unregister(connectionID, userID)
	if !existed {
		return
	}

	for _, childID := range rooms {
		r.shard(childID).leaveGroup(childID, connectionID)
	}

	metrics.SocketConnections.WithLabelValues(string(role)).Dec()
	logging.Info().
		Str("connection_id", connectionID).
		Int64("user_id", userID).
		Str("role", string(role)).
		Msg("connection unregistered")
}

// IsChildOnline reports whether the child currently has a primary connection.
func (r *Registry) IsChildOnline(userID int64) bool {
	_, ok := r.shard(userID).primary(userID)
	return ok
}

// PrimaryConnectionOf returns the child's primary connection id, if any.
func (r *Registry) PrimaryConnectionOf(userID int64) (string, bool) {
	return r.shard(userID).primary(userID)
}

// SendToUsers delivers an event to every registered connection of every user
// in the set. Ids with no live connection are silently dropped; this is
// best-effort fan-out, not guaranteed delivery.
func (r *Registry) SendToUsers(userIDs []int64, event string, payload interface{}) {
	for _, id := range userIDs {
		for _, sender := range r.shard(id).senders(id) {
			sender.Send(event, payload)
		}
	}
}

// SendToPrimary delivers an event to the child's primary connection only.
// Returns false when the child has no primary.
func (r *Registry) SendToPrimary(userID int64, event string, payload interface{}) bool {
	sender, ok := r.shard(userID).primarySender(userID)
	if !ok {
		return false
	}
	sender.Send(event, payload)
	return true
}

// JoinChildGroup adds a connection (typically a linked parent's) to the
// child's broadcast group. The caller must have verified the link.
func (r *Registry) JoinChildGroup(childID int64, connectionID string, userID int64, sender Sender) {
	r.shard(childID).joinGroup(childID, connectionID, sender)
	r.shard(userID).noteRoom(userID, connectionID, childID)
}

// SendToChildGroup delivers an event to every connection in the child's
// broadcast group: the child's own connections plus any joined parents.
func (r *Registry) SendToChildGroup(childID int64, event string, payload interface{}) {
	for _, sender := range r.shard(childID).groupSenders(childID) {
		sender.Send(event, payload)
	}
}

// ConnectionCount returns the number of live connections across all shards.
func (r *Registry) ConnectionCount() int {
	total := 0
	for _, sh := range r.shards {
		total += sh.connectionCount()
	}
	return total
}
