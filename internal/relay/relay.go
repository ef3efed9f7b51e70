// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package relay caches each child's last known fix and fans it out: connected
// linked parents receive it over their sockets, and every token-holding
// linked parent gets a push notification regardless of socket delivery.
// The push channel is deliberately redundant (at-least-once, possibly
// duplicate) because it is the only one that reaches a fully closed app.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
	"github.com/nestlink/nestlink/internal/presence"
)

// cacheShardCount is a power of two so shard selection is a mask.
const cacheShardCount = 16

// cacheShard holds the last fix for a slice of the child-id space.
type cacheShard struct {
	mu      sync.RWMutex
	records map[int64]models.LocationRecord
}

// Relay is the location relay. One LocationRecord per child, overwritten on
// every report; never appended, never evicted proactively.
type Relay struct {
	shards   [cacheShardCount]*cacheShard
	registry *presence.Registry
	store    directory.Store
	bus      *events.Bus

	// recency is the age under which a cached fix counts as recent.
	recency time.Duration
}

// New creates a Relay.
func New(registry *presence.Registry, store directory.Store, bus *events.Bus, recency time.Duration) *Relay {
	r := &Relay{
		registry: registry,
		store:    store,
		bus:      bus,
		recency:  recency,
	}
	for i := range r.shards {
		r.shards[i] = &cacheShard{records: make(map[int64]models.LocationRecord)}
	}
	return r
}

func (r *Relay) shard(childID int64) *cacheShard {
	return r.shards[uint64(childID)&(cacheShardCount-1)]
}

// ReportLocation processes a child's location report: overwrite the cache,
// fan out to connected linked parents, and queue push notifications for all
// linked parents with tokens. A child with no linked parents is a cache-only
// no-op. Directory read failures degrade to an empty linked set.
func (r *Relay) ReportLocation(ctx context.Context, childID int64, username string, lat, lon float64, ts int64) {
	record := models.LocationRecord{
		ChildID:   childID,
		Username:  username,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
	}

	sh := r.shard(childID)
	sh.mu.Lock()
	sh.records[childID] = record
	sh.mu.Unlock()

	parentIDs, err := r.store.FindLinkedIDs(ctx, childID)
	if err != nil {
		logging.Warn().Err(err).Int64("child_id", childID).Msg("linked-id lookup failed, skipping fan-out")
		return
	}
	if len(parentIDs) == 0 {
		return
	}

	r.registry.SendToUsers(parentIDs, models.EventReceiveLocation, models.ReceiveLocationPayload{
		UserID:    childID,
		Username:  username,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
	})
	metrics.LocationsRelayed.Inc()

	if r.bus == nil {
		return
	}
	err = r.bus.PublishLocationAlert(&events.LocationAlert{
		ChildID:   childID,
		Username:  username,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
		ParentIDs: parentIDs,
	})
	if err != nil {
		logging.Warn().Err(err).Int64("child_id", childID).Msg("failed to queue location push")
	}
}

// Cached returns the child's last known fix, if any. Pure read.
func (r *Relay) Cached(childID int64) (models.LocationRecord, bool) {
	sh := r.shard(childID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	record, ok := sh.records[childID]
	return record, ok
}

// IsRecent reports whether a cached fix is younger than the recency
// threshold.
func (r *Relay) IsRecent(record models.LocationRecord, now time.Time) bool {
	return record.Age(now) < r.recency
}
