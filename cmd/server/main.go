// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package main is the entry point for the NestLink server.
//
// NestLink is a realtime relay that keeps parents and children connected:
// children report location over a WebSocket, parents receive live updates,
// and push notifications cover the moments when nobody has the app open.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from a YAML file and environment variables (Koanf v2)
//  2. Directory: open the badger-backed user directory (links and push tokens)
//  3. Event bus: in-process Watermill router carrying push-notification events
//  4. Core services: presence registry, pairing codes, location relay, refresh coordinator
//  5. Push: Expo provider client, dispatcher, and bus-driven notifier
//  6. HTTP server: WebSocket endpoint, health check, and Prometheus metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (NESTLINK_ prefix, e.g. NESTLINK_SERVER_PORT)
//   - Config file (config.yaml or /etc/nestlink/config.yaml; CONFIG_PATH overrides)
//   - Built-in defaults
//
// NESTLINK_SECURITY_JWT_SECRET must be set to the same secret the external
// auth service signs session tokens with.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Drains in-flight requests and pending push events
//   - Closes the directory store
//
// # Example Usage
//
//	export NESTLINK_SECURITY_JWT_SECRET=$(openssl rand -base64 32)
//	export NESTLINK_DIRECTORY_PATH=/data/nestlink/directory
//	./nestlink
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nestlink/nestlink/internal/api"
	"github.com/nestlink/nestlink/internal/config"
	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/events"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/pairing"
	"github.com/nestlink/nestlink/internal/presence"
	"github.com/nestlink/nestlink/internal/push"
	"github.com/nestlink/nestlink/internal/refresh"
	"github.com/nestlink/nestlink/internal/relay"
	"github.com/nestlink/nestlink/internal/socket"
	"github.com/nestlink/nestlink/internal/supervisor"
	"github.com/nestlink/nestlink/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("directory_path", cfg.Directory.Path).
		Bool("in_memory", cfg.Directory.InMemory).
		Bool("push_enabled", cfg.Push.Enabled).
		Msg("Configuration loaded")

	db, err := directory.Open(cfg.Directory.Path, cfg.Directory.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open directory store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing directory store")
		}
	}()
	store := directory.NewBadgerStore(db)
	logging.Info().Msg("Directory store opened")

	bus, err := events.NewBus()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// Core services
	registry := presence.NewRegistry()
	codes := pairing.NewCodeService(cfg.Pairing.CodeLength, cfg.Pairing.CodeTTL)
	linker := pairing.NewLinker(store)
	rel := relay.New(registry, store, bus, cfg.Location.RecencyThreshold)
	coordinator := refresh.NewCoordinator(registry, rel, store, bus)

	// Push pipeline. Handlers must be registered before the bus starts.
	if cfg.Push.Enabled {
		provider := push.NewHTTPProvider(push.HTTPProviderConfig{
			URL:              cfg.Push.URL,
			Timeout:          cfg.Push.Timeout,
			FailureThreshold: cfg.Push.BreakerFailureThreshold,
			OpenTimeout:      cfg.Push.BreakerOpenTimeout,
		})
		dispatcher := push.NewDispatcher(provider, store, cfg.Push.ChunkSize, cfg.Push.RatePerSecond)
		push.NewNotifier(bus, dispatcher, store, cfg.Directory.QueryTimeout)
		logging.Info().Str("url", cfg.Push.URL).Msg("Push notifier registered")
	} else {
		logging.Info().Msg("Push notifications disabled")
	}

	socketServer := socket.NewServer(registry, codes, linker, rel, coordinator, store, cfg.Directory.QueryTimeout)
	handler := api.NewHandler(cfg, socketServer, store)
	router := api.NewRouter(cfg, handler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	// Supervision tree: event bus in the messaging layer, listener in the
	// api layer.
	tree := supervisor.NewTree()
	tree.Messaging.Add(services.NewEventBusService(bus))
	tree.API.Add(services.NewHTTPServerService("http-server", httpServer, cfg.Server.Timeout))
	logging.Info().Str("addr", httpServer.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.Root.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// http.Server.Shutdown does not cover hijacked connections; close the
	// live sockets explicitly so their pumps exit before the store closes.
	socketServer.Shutdown()

	unstopped, _ := tree.Root.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
	}

	logging.Info().Msg("NestLink stopped gracefully")
}
