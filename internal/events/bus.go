// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package events provides the in-process event bus decoupling the realtime
// relay paths from push dispatch. Location reports and silent wake-ups are
// published here and consumed by the push notifier, so a slow provider call
// never blocks a socket handler.
//
// The bus is a Watermill gochannel Pub/Sub with a Router providing panic
// recovery and bounded retry. The server process owns all live connections,
// so no broker is involved.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/nestlink/nestlink/internal/logging"
)

// Topics carried on the bus.
const (
	// TopicPushAlert carries location-update notifications for linked parents.
	TopicPushAlert = "push.alert"

	// TopicPushWake carries silent wake-up requests for offline children.
	TopicPushWake = "push.wake"
)

// LocationAlert asks the push notifier to tell linked parents about a fresh
// location report.
type LocationAlert struct {
	ChildID   int64   `json:"child_id"`
	Username  string  `json:"username"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
	ParentIDs []int64 `json:"parent_ids"`
}

// SilentWake asks the push notifier to send a content-only push that wakes
// the child's device for an immediate location report.
type SilentWake struct {
	ChildID int64 `json:"child_id"`
}

// Bus wraps the gochannel Pub/Sub and its handler router.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
}

// NewBus creates the bus and its router. Handlers must be added before Run.
func NewBus() (*Bus, error) {
	logger := logging.NewWatermillAdapter()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			Logger:          logger,
		}.Middleware,
	)

	return &Bus{pubsub: pubsub, router: router, logger: logger}, nil
}

// AddHandler subscribes a no-publish handler to a topic. Must be called
// before Run.
func (b *Bus) AddHandler(name, topic string, fn message.NoPublishHandlerFunc) {
	b.router.AddNoPublisherHandler(name, topic, b.pubsub, fn)
}

// Run starts the router and blocks until the context is canceled. Implements
// the suture.Service contract through the supervisor wrapper.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel that closes once the router is running and
// handlers are receiving.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.pubsub.Close()
}

// PublishLocationAlert publishes a location notification request.
// Publish errors are soft: the caller logs and continues.
func (b *Bus) PublishLocationAlert(alert *LocationAlert) error {
	return b.publish(TopicPushAlert, alert)
}

// PublishSilentWake publishes a silent wake-up request.
func (b *Bus) PublishSilentWake(wake *SilentWake) error {
	return b.publish(TopicPushWake, wake)
}

func (b *Bus) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
