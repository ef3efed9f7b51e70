// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// fakeHTTPServer scripts ListenAndServe/Shutdown behavior.
type fakeHTTPServer struct {
	serveErr    error
	shutdownErr error
	serveDone   chan struct{} // ListenAndServe blocks until closed
	shutdowns   int
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.serveDone != nil {
		<-f.serveDone
	}
	return f.serveErr
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdowns++
	if f.serveDone != nil {
		close(f.serveDone)
	}
	return f.shutdownErr
}

func TestHTTPServerService_ListenerFailure(t *testing.T) {
	srv := &fakeHTTPServer{serveErr: errors.New("bind: address already in use")}
	svc := NewHTTPServerService("test-http", srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || err.Error() != "bind: address already in use" {
		t.Errorf("Serve = %v, want the listener error", err)
	}
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := &fakeHTTPServer{serveDone: make(chan struct{}), serveErr: http.ErrServerClosed}
	svc := NewHTTPServerService("test-http", srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if srv.shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdowns)
	}
}

func TestHTTPServerService_ServerClosedIsClean(t *testing.T) {
	srv := &fakeHTTPServer{serveErr: http.ErrServerClosed}
	svc := NewHTTPServerService("test-http", srv, time.Second)

	if err := svc.Serve(context.Background()); err != nil {
		t.Errorf("Serve = %v, want nil for a closed server", err)
	}
}

func TestHTTPServerService_String(t *testing.T) {
	svc := NewHTTPServerService("http-server", &fakeHTTPServer{}, 0)
	if got := svc.String(); got != "http-server" {
		t.Errorf("String = %q", got)
	}
}
