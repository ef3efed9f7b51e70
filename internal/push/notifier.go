// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package push

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/models"
)

// Notifier consumes push requests from the event bus, resolves tokens
// through the directory, and hands fully-formed notifications to the
// dispatcher. Running on the bus keeps provider latency off the socket
// handlers that published the request.
type Notifier struct {
	dispatcher *Dispatcher
	store      directory.Store
	timeout    time.Duration
}

// NewNotifier creates a Notifier and registers its handlers on the bus.
func NewNotifier(bus *events.Bus, dispatcher *Dispatcher, store directory.Store, timeout time.Duration) *Notifier {
	n := &Notifier{dispatcher: dispatcher, store: store, timeout: timeout}
	bus.AddHandler("push-location-alert", events.TopicPushAlert, n.handleLocationAlert)
	bus.AddHandler("push-silent-wake", events.TopicPushWake, n.handleSilentWake)
	return n
}

// handleLocationAlert notifies every linked parent that holds at least one
// push token. Pushed to all of them regardless of socket delivery: the push
// is the channel that reaches a fully closed app, and duplicates are
// acceptable.
func (n *Notifier) handleLocationAlert(msg *message.Message) error {
	var alert events.LocationAlert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		// Malformed payloads are dropped, not retried.
		logging.Error().Err(err).Msg("malformed location alert event")
		return nil
	}

	ctx, cancel := n.opContext(msg)
	defer cancel()

	parents, err := n.store.FindUsersByIDs(ctx, alert.ParentIDs, models.RoleParent)
	if err != nil {
		// Recipient resolution is a non-critical read: ack and move on. A
		// returned error would nack, and the gochannel redelivers nacked
		// messages without bound, wedging the topic on one bad message.
		logging.Error().Err(err).Int64("child_id", alert.ChildID).
			Msg("failed to resolve parents for push, dropping alert")
		return nil
	}

	var tokens []string
	for _, parent := range parents {
		tokens = append(tokens, parent.PushTokens...)
	}
	if len(tokens) == 0 {
		return nil
	}

	n.dispatcher.Send(ctx, tokens, Notification{
		Title: fmt.Sprintf("%s shared a location", alert.Username),
		Body:  "Tap to see where they are right now.",
		Data: map[string]interface{}{
			"type":      "location_update",
			"userId":    alert.ChildID,
			"latitude":  alert.Latitude,
			"longitude": alert.Longitude,
			"timestamp": alert.Timestamp,
		},
	})
	return nil
}

// handleSilentWake sends a content-only push asking the child's device to
// report its location when it wakes.
func (n *Notifier) handleSilentWake(msg *message.Message) error {
	var wake events.SilentWake
	if err := json.Unmarshal(msg.Payload, &wake); err != nil {
		logging.Error().Err(err).Msg("malformed silent wake event")
		return nil
	}

	ctx, cancel := n.opContext(msg)
	defer cancel()

	children, err := n.store.FindUsersByIDs(ctx, []int64{wake.ChildID}, models.RoleChild)
	if err != nil {
		logging.Error().Err(err).Int64("child_id", wake.ChildID).
			Msg("failed to resolve child for wake push, dropping wake")
		return nil
	}
	if len(children) == 0 || len(children[0].PushTokens) == 0 {
		return nil
	}

	n.dispatcher.Send(ctx, children[0].PushTokens, Notification{
		Silent: true,
		Data: map[string]interface{}{
			"action": "requestImmediateLocation",
		},
	})
	return nil
}

// opContext bounds one handler invocation.
func (n *Notifier) opContext(msg *message.Message) (context.Context, context.CancelFunc) {
	timeout := n.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(msg.Context(), timeout)
}
