// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nestlink/nestlink/internal/config"
)

// NewRouter builds the chi router for the relay's HTTP surface.
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Security.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow)).
			Get("/ws", handler.WebSocket)
		r.Get("/health", handler.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
