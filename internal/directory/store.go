// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package directory implements the user directory consumed by the relay
// core: identity lookup, symmetric link mutation, and push-token bookkeeping.
//
// The core only depends on the Store interface. Everything else about user
// records (registration, credentials, profile edits) is owned by external
// services and is out of scope here.
package directory

import (
	"context"

	"github.com/nestlink/nestlink/internal/models"
)

// Store is the narrow directory contract consumed by the relay core.
type Store interface {
	// FindUser returns the full identity record for the id, or
	// models.ErrUserNotFound.
	FindUser(ctx context.Context, id int64) (*models.Identity, error)

	// FindLinkedIDs returns the ids linked to the user. A missing user
	// yields an empty slice, not an error: linked-id reads are non-critical
	// and degrade to no-op fan-outs.
	FindLinkedIDs(ctx context.Context, userID int64) ([]int64, error)

	// FindUsersByIDs resolves ids to summaries, optionally filtered by role.
	// Ids with no record are silently skipped.
	FindUsersByIDs(ctx context.Context, ids []int64, roleFilter models.Role) ([]models.UserSummary, error)

	// AddLink records a symmetric link between two users. Idempotent: linking
	// an already-linked pair is a no-op. Both sides are written in one
	// transaction; a partial link is never observable.
	AddLink(ctx context.Context, aID, bID int64) error

	// AddPushToken attaches a push token to the user. Idempotent per token.
	AddPushToken(ctx context.Context, userID int64, token string) error

	// RemoveTokens deletes the given push tokens from whichever users hold
	// them. Unknown tokens are ignored.
	RemoveTokens(ctx context.Context, tokens []string) error
}
