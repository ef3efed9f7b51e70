// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
)

// LinkResult is the outcome of a successful (or idempotently short-circuited)
// link transaction.
type LinkResult struct {
	// ParentLinkedIDs is the parent's updated linked-id list, used to refresh
	// the parent's client view.
	ParentLinkedIDs []int64

	// ChildID and ChildUsername identify the newly linked child.
	ChildID       int64
	ChildUsername string
}

// Linker runs the mutual-link transaction against the directory store.
type Linker struct {
	store directory.Store
}

// NewLinker creates a Linker on the given directory store.
func NewLinker(store directory.Store) *Linker {
	return &Linker{store: store}
}

// LinkUsers links a parent and a child symmetrically. Rejects self-links and
// same-role pairs. Already-linked pairs short-circuit to success without a
// duplicate write, which covers a parent redeeming a consumed-but-unexpired
// code twice. The symmetric write is atomic; if it fails after retry the
// caller sees ErrLinkPersist and never a partial link.
func (l *Linker) LinkUsers(ctx context.Context, parentID, childID int64) (*LinkResult, error) {
	if parentID == childID {
		return nil, models.ErrSelfLink
	}

	parent, err := l.store.FindUser(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent %d: %w", parentID, err)
	}
	child, err := l.store.FindUser(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("load child %d: %w", childID, err)
	}
	if parent.Role == child.Role {
		return nil, models.ErrRoleConflict
	}

	if parent.Linked(childID) {
		return &LinkResult{
			ParentLinkedIDs: parent.LinkedUserIDs,
			ChildID:         child.ID,
			ChildUsername:   child.Username,
		}, nil
	}

	// The store writes both sides in one transaction and retries internal
	// conflicts; one more attempt here covers transient failures before the
	// error is surfaced as a persist failure.
	if err := l.store.AddLink(ctx, parentID, childID); err != nil {
		logging.Warn().Err(err).Int64("parent_id", parentID).Int64("child_id", childID).Msg("link write failed, retrying")
		if err = l.store.AddLink(ctx, parentID, childID); err != nil {
			return nil, errors.Join(models.ErrLinkPersist, err)
		}
	}

	updated, err := l.store.FindLinkedIDs(ctx, parentID)
	if err != nil {
		// The link itself is persisted; degrade the refreshed view to what
		// we already know rather than failing the transaction.
		logging.Warn().Err(err).Int64("parent_id", parentID).Msg("failed to re-read linked ids after link")
		updated = append(parent.LinkedUserIDs, childID)
	}

	metrics.LinksCreated.Inc()
	logging.Info().Int64("parent_id", parentID).Int64("child_id", childID).Msg("users linked")
	return &LinkResult{
		ParentLinkedIDs: updated,
		ChildID:         child.ID,
		ChildUsername:   child.Username,
	}, nil
}
