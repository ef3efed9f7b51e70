// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package supervisor builds the suture supervision tree for the server.
//
// The tree has two layers under the root: a messaging layer that owns
// the in-process event bus, and an api layer that owns the HTTP/WebSocket
// listener. Services restart independently on failure; the root only
// escalates when a layer exceeds its failure budget.
package supervisor

import (
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/nestlink/nestlink/internal/logging"
)

// Tree wraps the root supervisor with its layer supervisors so callers
// can add services to the correct layer before serving.
type Tree struct {
	Root      *suture.Supervisor
	Messaging *suture.Supervisor
	API       *suture.Supervisor
}

// NewTree constructs the supervision tree. Nothing runs until the
// caller invokes Root.ServeBackground or Root.Serve.
func NewTree() *Tree {
	root := suture.New("nestlink", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
		FailureDecay:     30,
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		Timeout:          30 * time.Second,
	})

	messaging := suture.NewSimple("messaging-layer")
	api := suture.NewSimple("api-layer")

	// Messaging first so the push bus is draining before the listener
	// accepts connections that publish to it.
	root.Add(messaging)
	root.Add(api)

	return &Tree{Root: root, Messaging: messaging, API: api}
}
