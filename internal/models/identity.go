// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package models defines the core domain types shared across NestLink:
// user identities, presence entries, connection codes, location records,
// and the closed set of socket message payloads.
package models

import "time"

// Role identifies which side of a parent/child link a user is on.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// Identity is a persistent user record owned by the directory store.
// LinkedUserIDs is always mutated symmetrically: if A links B, B links A
// in the same transaction.
type Identity struct {
	ID            int64    `json:"id"`
	Username      string   `json:"username"`
	Role          Role     `json:"role"`
	LinkedUserIDs []int64  `json:"linked_user_ids"`
	PushTokens    []string `json:"push_tokens"`
}

// Linked reports whether the given user id is in this identity's linked set.
func (u *Identity) Linked(id int64) bool {
	for _, linked := range u.LinkedUserIDs {
		if linked == id {
			return true
		}
	}
	return false
}

// UserSummary is the narrow projection of an identity handed out to
// collaborators that only need display and push-routing information.
type UserSummary struct {
	ID         int64    `json:"id"`
	Username   string   `json:"username"`
	PushTokens []string `json:"-"`
}

// LocationRecord is the most recent fix reported by a child. One record per
// child, overwritten on every report; never appended.
type LocationRecord struct {
	ChildID   int64   `json:"userId"`
	Username  string  `json:"username"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// Age returns how old the fix is relative to now, based on the client-supplied
// millisecond timestamp.
func (r *LocationRecord) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.Timestamp))
}
