// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package metrics exposes Prometheus instrumentation for the relay core:
// socket connections, pairing-code lifecycle, location fan-out, and push
// dispatch outcomes. Registered via promauto on the default registry and
// served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Socket metrics
	SocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "socket_connections",
			Help: "Current number of live socket connections",
		},
		[]string{"role"},
	)

	SocketEventsIn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_events_in_total",
			Help: "Total inbound socket events by event name",
		},
		[]string{"event"},
	)

	SocketEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_events_dropped_total",
			Help: "Total outbound events dropped because the client send buffer was full",
		},
		[]string{"event"},
	)

	// Pairing metrics
	CodesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_codes_issued_total",
			Help: "Total connection codes issued",
		},
	)

	CodesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_codes_consumed_total",
			Help: "Total connection codes successfully consumed",
		},
	)

	CodesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_codes_expired_total",
			Help: "Total connection codes removed by expiry",
		},
	)

	LinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_links_created_total",
			Help: "Total parent/child links persisted",
		},
	)

	// Relay metrics
	LocationsRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locations_relayed_total",
			Help: "Total location reports relayed to connected parents",
		},
	)

	RefreshRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_requests_total",
			Help: "Total on-demand location refresh requests by outcome",
		},
		[]string{"outcome"}, // "live", "cached", "no_history", "not_linked"
	)

	// Push metrics
	PushMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_messages_sent_total",
			Help: "Total push messages accepted by the provider",
		},
	)

	PushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_errors_total",
			Help: "Total push delivery errors by type",
		},
		[]string{"error_type"}, // "network", "provider", "unregistered", "invalid_token"
	)

	PushTokensRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_removed_total",
			Help: "Total push tokens removed from the directory after failures",
		},
	)
)
