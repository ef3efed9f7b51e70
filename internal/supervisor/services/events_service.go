// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package services

import (
	"context"

	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/logging"
)

// EventBusService runs the in-process event router under supervision.
type EventBusService struct {
	bus *events.Bus
}

// NewEventBusService wraps bus for supervision.
func NewEventBusService(bus *events.Bus) *EventBusService {
	return &EventBusService{bus: bus}
}

// Serve implements suture.Service. The router blocks until ctx is
// cancelled; handler registration must happen before the tree starts.
func (s *EventBusService) Serve(ctx context.Context) error {
	logging.Info().Msg("event bus started")
	err := s.bus.Run(ctx)
	logging.Info().Msg("event bus stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor log output.
func (s *EventBusService) String() string { return "event-bus" }
