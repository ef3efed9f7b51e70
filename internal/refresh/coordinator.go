// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package refresh implements the on-demand "request current location" state
// machine. A reachable child is asked over its live socket; an unreachable
// one gets a silent push wake-up while the parent is answered immediately
// from the location cache. The silent push is best-effort with no delivery
// acknowledgment tied back to the request: a closed mobile app cannot be
// reached any other way.
package refresh

import (
	"context"
	"time"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
	"github.com/nestlink/nestlink/internal/presence"
	"github.com/nestlink/nestlink/internal/relay"
)

// Result reports how a refresh request was satisfied.
type Result struct {
	// Cached is set when the child was offline and a cached fix was returned.
	// It carries isStale/updateRequested tags for the parent's UI. Nil on the
	// live path, where the child's own report arrives asynchronously through
	// the normal fan-out.
	Cached *models.ReceiveLocationPayload
}

// Coordinator wires the refresh state machine to presence, the location
// cache, the directory, and the push bus.
type Coordinator struct {
	registry *presence.Registry
	relay    *relay.Relay
	store    directory.Store
	bus      *events.Bus
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(registry *presence.Registry, rel *relay.Relay, store directory.Store, bus *events.Bus) *Coordinator {
	return &Coordinator{registry: registry, relay: rel, store: store, bus: bus}
}

// RequestCurrentLocation handles a parent's request for a child's current
// position.
//
// The link check reads the parent's linked set fresh from the directory, not
// from the connection's handshake snapshot, so a revoked link cannot be
// exercised with a stale session.
//
// Returns models.ErrNotLinked, models.ErrChildOfflineNoHistory, or a Result.
func (c *Coordinator) RequestCurrentLocation(ctx context.Context, parentID, childID int64) (*Result, error) {
	linked, err := c.store.FindLinkedIDs(ctx, parentID)
	if err != nil {
		// A failed fresh read must not authorize anything.
		logging.Warn().Err(err).Int64("parent_id", parentID).Msg("link check read failed")
		metrics.RefreshRequests.WithLabelValues("not_linked").Inc()
		return nil, models.ErrNotLinked
	}
	if !contains(linked, childID) {
		metrics.RefreshRequests.WithLabelValues("not_linked").Inc()
		return nil, models.ErrNotLinked
	}

	// Live path: the primary connection is the authoritative "app is open"
	// signal. SendToPrimary re-checks it atomically, so a disconnect racing
	// this request falls through to the offline path.
	if c.registry.SendToPrimary(childID, models.EventGetCurrentLocation, nil) {
		c.registry.SendToChildGroup(childID, models.EventGetCurrentLocation, nil)
		metrics.RefreshRequests.WithLabelValues("live").Inc()
		return &Result{}, nil
	}

	// Offline path: answer from cache right away, then wake the device.
	record, ok := c.relay.Cached(childID)
	if !ok {
		c.requestWake(childID)
		metrics.RefreshRequests.WithLabelValues("no_history").Inc()
		return nil, models.ErrChildOfflineNoHistory
	}

	c.requestWake(childID)
	metrics.RefreshRequests.WithLabelValues("cached").Inc()
	return &Result{
		Cached: &models.ReceiveLocationPayload{
			UserID:          record.ChildID,
			Username:        record.Username,
			Latitude:        record.Latitude,
			Longitude:       record.Longitude,
			Timestamp:       record.Timestamp,
			IsStale:         !c.relay.IsRecent(record, time.Now()),
			UpdateRequested: true,
		},
	}, nil
}

// requestWake queues a silent push for the child. Fire-and-forget: the
// outcome is not awaited and any resulting report arrives later through the
// normal reportLocation path.
func (c *Coordinator) requestWake(childID int64) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishSilentWake(&events.SilentWake{ChildID: childID}); err != nil {
		logging.Warn().Err(err).Int64("child_id", childID).Msg("failed to queue silent wake push")
	}
}

func contains(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
