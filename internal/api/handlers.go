// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package api provides the HTTP surface: the authenticated WebSocket upgrade
// endpoint, health, and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nestlink/nestlink/internal/config"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/socket"
)

// HealthChecker reports whether a backing store can serve requests.
type HealthChecker interface {
	Healthy() bool
}

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	cfg    *config.Config
	server *socket.Server
	store  HealthChecker
}

// NewHandler creates the HTTP handler set. store may be nil when no
// health-checkable backing store exists.
func NewHandler(cfg *config.Config, server *socket.Server, store HealthChecker) *Handler {
	return &Handler{cfg: cfg, server: server, store: store}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout guarding against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates WebSocket connection origins against the configured
// CORS origins. Requests without an Origin header (mobile clients, scripts)
// are allowed; browsers always send one.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// WebSocket authenticates and upgrades a client connection, then hands it to
// the socket server. A bad session token is rejected before any core state
// is touched.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromRequest(r, h.cfg.Security.JWTSecret)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	// HandleConnection blocks for the connection's lifetime; each upgrade
	// request already runs on its own goroutine.
	h.server.HandleConnection(conn, session)
}

// Health reports liveness plus basic relay stats. A failing directory store
// degrades the status and the response code so load balancers stop routing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	directoryHealthy := true
	if h.store != nil && !h.store.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
		directoryHealthy = false
	}
	respondJSON(w, code, map[string]interface{}{
		"status":      status,
		"directory":   directoryHealthy,
		"connections": h.server.ConnectionCount(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
