// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package services contains suture.Service wrappers around the server's
// long-running components.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nestlink/nestlink/internal/logging"
)

// HTTPServer is the subset of *http.Server the service needs. Narrowed
// so tests can substitute a fake listener.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision and shuts it
// down gracefully when the supervisor cancels its context.
type HTTPServerService struct {
	name            string
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps srv for supervision. name appears in
// supervisor logs.
func NewHTTPServerService(name string, srv HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &HTTPServerService{name: name, server: srv, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. It blocks until the listener fails
// or ctx is cancelled, in which case it drains in-flight requests
// within the shutdown timeout.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	logging.Info().Str("service", s.name).Msg("HTTP server started")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Str("service", s.name).Msg("HTTP server failed")
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Str("service", s.name).Msg("HTTP server shutdown failed")
			return err
		}
		logging.Info().Str("service", s.name).Msg("HTTP server stopped")
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor log output.
func (s *HTTPServerService) String() string { return s.name }
