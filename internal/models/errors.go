// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package models

import "errors"

// Sentinel errors for the pairing, relay, and refresh flows. User-facing
// handlers translate these into structured *_error socket events; they are
// never surfaced as raw errors to clients.
var (
	// ErrInvalidCode indicates a connection code that is not in the live index.
	ErrInvalidCode = errors.New("invalid connection code")

	// ErrExpiredCode indicates a connection code past its expiry. Lookup
	// removes the code as a side effect, so retrying cannot succeed.
	ErrExpiredCode = errors.New("connection code has expired")

	// ErrSelfLink indicates an attempt to link an account to itself.
	ErrSelfLink = errors.New("cannot link a user to itself")

	// ErrRoleConflict indicates both ends of a link resolve to the same role.
	ErrRoleConflict = errors.New("users have conflicting roles")

	// ErrLinkPersist indicates the directory write failed after retry.
	// The code is still consumed to avoid replay.
	ErrLinkPersist = errors.New("failed to persist link")

	// ErrNotLinked indicates the requesting parent is not linked to the child.
	ErrNotLinked = errors.New("user is not linked to this child")

	// ErrChildOfflineNoHistory indicates the child has no live connection and
	// no cached location to fall back on.
	ErrChildOfflineNoHistory = errors.New("child is offline and has no location history")

	// ErrUserNotFound indicates the directory has no record for the id.
	ErrUserNotFound = errors.New("user not found")
)

// UserMessage maps a core error to the human-readable message carried by the
// corresponding *_error event. Unknown errors get a generic message so
// internals never leak to clients.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "Invalid connection code."
	case errors.Is(err, ErrExpiredCode):
		return "Connection code has expired."
	case errors.Is(err, ErrSelfLink):
		return "You cannot link your own account."
	case errors.Is(err, ErrRoleConflict):
		return "These accounts cannot be linked."
	case errors.Is(err, ErrLinkPersist):
		return "Could not save the link. Please request a new code."
	case errors.Is(err, ErrNotLinked):
		return "You are not linked to this child."
	case errors.Is(err, ErrChildOfflineNoHistory):
		return "Child is offline and no location has been recorded yet."
	case errors.Is(err, ErrUserNotFound):
		return "User not found."
	default:
		return "Something went wrong. Please try again."
	}
}
