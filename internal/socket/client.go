// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package socket implements the authenticated WebSocket event surface: the
// per-connection read/write pumps and the dispatch of the closed inbound
// event set onto the pairing, relay, and refresh services.
package socket

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024 // 32 KB; payloads are small JSON bodies
	sendBufferSize = 64
)

// Session is the authenticated identity a connection carries, established at
// handshake. LinkedUserIDs is a snapshot; authorization-sensitive paths
// re-read the directory instead of trusting it.
type Session struct {
	UserID        int64
	Role          models.Role
	Username      string
	LinkedUserIDs []int64
}

// Client is one live socket connection.
type Client struct {
	id      string
	session Session
	conn    *websocket.Conn
	server  *Server
	send    chan models.Envelope
	done    chan struct{}

	closeOnce sync.Once

	// primary is true when this connection registered as the child's
	// primary. Set once at registration, read at teardown.
	primary bool
}

// newClient wraps an upgraded connection.
func newClient(server *Server, conn *websocket.Conn, session Session) *Client {
	return &Client{
		id:      uuid.NewString(),
		session: session,
		conn:    conn,
		server:  server,
		send:    make(chan models.Envelope, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send implements presence.Sender. Non-blocking: if the client's buffer is
// full the event is dropped and counted, never queued against the handler.
func (c *Client) Send(event string, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		marshaled, err := json.Marshal(payload)
		if err != nil {
			logging.Error().Err(err).Str("event", event).Msg("failed to marshal outbound event")
			return
		}
		data = marshaled
	}

	select {
	case <-c.done:
		// Connection already torn down; drop silently.
	case c.send <- models.Envelope{Event: event, Data: data}:
	default:
		metrics.SocketEventsDropped.WithLabelValues(event).Inc()
		logging.Warn().
			Str("event", event).
			Str("connection_id", c.id).
			Msg("send buffer full, dropping event")
	}
}

// SendError emits a structured *_error event with the user-facing message
// for err.
func (c *Client) SendError(event string, err error) {
	c.Send(event, models.ErrorPayload{Message: models.UserMessage(err)})
}

// readPump reads envelopes off the wire and dispatches them until the
// connection drops, then tears down the client's registry and code state.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope models.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.server.dispatch(c, envelope)
	}
}

// writePump drains the send buffer to the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			}
			return

		case envelope := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				logging.Warn().Err(err).Str("connection_id", c.id).Msg("failed to write event")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown promptly and idempotently removes this connection's presence and
// pairing state.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.server.registry.Unregister(c.id, c.session.UserID, c.session.Role)
		// Codes are keyed by connection, so this only removes a code this
		// exact connection owns.
		c.server.codes.RemoveForConnection(c.id)
		c.server.removeClient(c.id)
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
