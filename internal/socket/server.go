// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package socket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
	"github.com/nestlink/nestlink/internal/models"
	"github.com/nestlink/nestlink/internal/pairing"
	"github.com/nestlink/nestlink/internal/presence"
	"github.com/nestlink/nestlink/internal/refresh"
	"github.com/nestlink/nestlink/internal/relay"
	"github.com/nestlink/nestlink/internal/validation"
)

// Server owns the live connections and dispatches inbound events onto the
// core services.
type Server struct {
	registry    *presence.Registry
	codes       *pairing.CodeService
	linker      *pairing.Linker
	relay       *relay.Relay
	coordinator *refresh.Coordinator
	store       directory.Store

	// opTimeout bounds directory reads made inside event handlers.
	opTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer wires the socket surface to the core services.
func NewServer(
	registry *presence.Registry,
	codes *pairing.CodeService,
	linker *pairing.Linker,
	rel *relay.Relay,
	coordinator *refresh.Coordinator,
	store directory.Store,
	opTimeout time.Duration,
) *Server {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Server{
		registry:    registry,
		codes:       codes,
		linker:      linker,
		relay:       rel,
		coordinator: coordinator,
		store:       store,
		opTimeout:   opTimeout,
		clients:     make(map[string]*Client),
	}
}

// HandleConnection adopts an upgraded, authenticated connection: registers
// presence, performs the on-connect pushes (a child's connection code, a
// parent's children list), and starts the pumps. Blocks until the connection
// drops.
func (s *Server) HandleConnection(conn *websocket.Conn, session Session) {
	client := newClient(s, conn, session)

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	client.primary = s.registry.Register(presence.Entry{
		ConnectionID:  client.id,
		UserID:        session.UserID,
		Role:          session.Role,
		Username:      session.Username,
		LinkedUserIDs: session.LinkedUserIDs,
	}, client)

	go client.writePump()

	switch session.Role {
	case models.RoleChild:
		if client.primary {
			s.sendConnectionCode(client)
		}
	case models.RoleParent:
		s.sendChildrenList(client)
	}

	client.readPump()
}

// ConnectionCount reports live connections, for the health endpoint.
func (s *Server) ConnectionCount() int {
	return s.registry.ConnectionCount()
}

// Shutdown closes every live connection. Idempotent; teardown of each
// connection is handled by its own closeOnce.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.teardown()
	}
	logging.Info().Int("connections", len(clients)).Msg("closed all socket connections")
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// dispatch routes one inbound envelope. Unknown events and payloads that
// fail validation are answered with an error event where the contract
// defines one, otherwise logged and ignored.
func (s *Server) dispatch(c *Client, envelope models.Envelope) {
	metrics.SocketEventsIn.WithLabelValues(envelope.Event).Inc()

	switch envelope.Event {
	case models.EventRequestConnectionCode:
		if !s.requireRole(c, models.RoleChild, envelope.Event) {
			return
		}
		s.sendConnectionCode(c)

	case models.EventRequestChildrenList:
		if !s.requireRole(c, models.RoleParent, envelope.Event) {
			return
		}
		s.sendChildrenList(c)

	case models.EventLinkChildWithCode:
		if !s.requireRole(c, models.RoleParent, envelope.Event) {
			return
		}
		s.handleLinkChild(c, envelope.Data)

	case models.EventJoinChildRoom:
		if !s.requireRole(c, models.RoleParent, envelope.Event) {
			return
		}
		s.handleJoinChildRoom(c, envelope.Data)

	case models.EventSendLocation:
		if !s.requireRole(c, models.RoleChild, envelope.Event) {
			return
		}
		s.handleSendLocation(c, envelope.Data)

	case models.EventRequestCurrentLocation:
		if !s.requireRole(c, models.RoleParent, envelope.Event) {
			return
		}
		s.handleRequestCurrentLocation(c, envelope.Data)

	case models.EventRegisterPushToken:
		s.handleRegisterPushToken(c, envelope.Data)

	default:
		logging.Debug().Str("event", envelope.Event).Str("connection_id", c.id).Msg("unknown event ignored")
	}
}

// requireRole enforces the event's role restriction. Violations are logged
// and the event dropped; the contract defines no error reply for them.
func (s *Server) requireRole(c *Client, role models.Role, event string) bool {
	if c.session.Role == role {
		return true
	}
	logging.Warn().
		Str("event", event).
		Int64("user_id", c.session.UserID).
		Str("role", string(c.session.Role)).
		Msg("event rejected for role")
	return false
}

// sendConnectionCode issues (or re-sends) the connection code for a child's
// connection.
func (s *Server) sendConnectionCode(c *Client) {
	code, err := s.codes.GetOrReissue(c.session.UserID, c.id)
	if err != nil {
		logging.Error().Err(err).Int64("user_id", c.session.UserID).Msg("failed to issue connection code")
		return
	}
	c.Send(models.EventReceiveConnectionCode, models.ConnectionCodePayload{Code: code})
}

// sendChildrenList answers with the parent's currently linked children,
// read fresh from the directory.
func (s *Server) sendChildrenList(c *Client) {
	ctx, cancel := s.opContext()
	defer cancel()

	linked, err := s.store.FindLinkedIDs(ctx, c.session.UserID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", c.session.UserID).Msg("children list read failed")
		linked = nil
	}
	children, err := s.store.FindUsersByIDs(ctx, linked, models.RoleChild)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", c.session.UserID).Msg("children resolve failed")
		children = nil
	}

	list := make([]models.ChildSummary, 0, len(children))
	for _, child := range children {
		list = append(list, models.ChildSummary{ID: child.ID, Username: child.Username})
	}
	c.Send(models.EventUpdateChildrenList, list)
}

// handleLinkChild consumes a connection code and runs the link transaction.
func (s *Server) handleLinkChild(c *Client, data json.RawMessage) {
	var payload models.LinkChildPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.Send(models.EventLinkChildError, models.ErrorPayload{Message: "Invalid request."})
		return
	}
	if verr := validation.Struct(&payload); verr != nil {
		c.Send(models.EventLinkChildError, models.ErrorPayload{Message: verr.Error()})
		return
	}

	childID, err := s.codes.Consume(payload.ConnectionCode)
	if err != nil {
		c.SendError(models.EventLinkChildError, err)
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	result, err := s.linker.LinkUsers(ctx, c.session.UserID, childID)
	if err != nil {
		// The code is already consumed; a persist failure is surfaced and
		// the parent must request a fresh code.
		c.SendError(models.EventLinkChildError, err)
		return
	}

	c.Send(models.EventLinkChildSuccess, models.LinkChildResult{
		Message: fmt.Sprintf("Linked with %s.", result.ChildUsername),
		Child:   models.ChildSummary{ID: result.ChildID, Username: result.ChildUsername},
	})
	s.sendChildrenList(c)
}

// handleJoinChildRoom adds a linked parent's connection to the child's
// broadcast group.
func (s *Server) handleJoinChildRoom(c *Client, data json.RawMessage) {
	childID, err := decodeChildID(data)
	if err != nil {
		c.Send(models.EventJoinRoomError, models.ErrorPayload{Message: "Invalid child id."})
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	linked, err := s.store.FindLinkedIDs(ctx, c.session.UserID)
	if err != nil || !containsID(linked, childID) {
		c.SendError(models.EventJoinRoomError, models.ErrNotLinked)
		return
	}

	s.registry.JoinChildGroup(childID, c.id, c.session.UserID, c)
	c.Send(models.EventJoinedRoomAck, models.RoomAckPayload{
		Room:    fmt.Sprintf("child_%d", childID),
		ChildID: childID,
	})
}

// handleSendLocation relays a child's location report.
func (s *Server) handleSendLocation(c *Client, data json.RawMessage) {
	var payload models.SendLocationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Debug().Err(err).Int64("user_id", c.session.UserID).Msg("malformed location report ignored")
		return
	}
	if verr := validation.Struct(&payload); verr != nil {
		logging.Debug().Str("reason", verr.Error()).Int64("user_id", c.session.UserID).Msg("invalid location report ignored")
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	s.relay.ReportLocation(ctx, c.session.UserID, c.session.Username, payload.Latitude, payload.Longitude, payload.Timestamp)
}

// handleRequestCurrentLocation runs the refresh state machine and translates
// its outcome to events for the requesting parent.
func (s *Server) handleRequestCurrentLocation(c *Client, data json.RawMessage) {
	childID, err := decodeChildID(data)
	if err != nil {
		c.Send(models.EventLocationRequestError, models.ErrorPayload{Message: "Invalid child id."})
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	result, err := s.coordinator.RequestCurrentLocation(ctx, c.session.UserID, childID)
	if err != nil {
		c.SendError(models.EventLocationRequestError, err)
		return
	}
	if result.Cached != nil {
		c.Send(models.EventReceiveLocation, *result.Cached)
	}
}

// handleRegisterPushToken attaches a device push token to the user.
func (s *Server) handleRegisterPushToken(c *Client, data json.RawMessage) {
	var payload models.RegisterPushTokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if verr := validation.Struct(&payload); verr != nil {
		logging.Debug().Str("reason", verr.Error()).Int64("user_id", c.session.UserID).Msg("invalid push token ignored")
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.store.AddPushToken(ctx, c.session.UserID, payload.Token); err != nil {
		logging.Warn().Err(err).Int64("user_id", c.session.UserID).Msg("push token registration failed")
	}
}

// opContext bounds a handler's directory work.
func (s *Server) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// decodeChildID accepts the wire forms of a child id payload: a bare number
// or a {"childId": n} object.
func decodeChildID(data json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(data, &id); err == nil && id > 0 {
		return id, nil
	}
	var payload models.ChildIDPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("decode child id: %w", err)
	}
	if verr := validation.Struct(&payload); verr != nil {
		return 0, verr
	}
	return payload.ChildID, nil
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
