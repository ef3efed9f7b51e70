// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package models

import "github.com/goccy/go-json"

// Socket event names. Inbound events arrive from authenticated clients;
// outbound events are emitted by the core. The set is closed: unknown event
// names are rejected on ingress before reaching core logic.
const (
	// Inbound
	EventRequestConnectionCode  = "request_connection_code"
	EventRequestChildrenList    = "request_children_list"
	EventLinkChildWithCode      = "link_child_with_code"
	EventJoinChildRoom          = "join_child_room"
	EventSendLocation           = "send_location"
	EventRequestCurrentLocation = "request_current_location"
	EventRegisterPushToken      = "register_push_token"

	// Outbound
	EventReceiveConnectionCode = "receive_connection_code"
	EventUpdateChildrenList    = "update_children_list"
	EventLinkChildSuccess      = "link_child_success"
	EventLinkChildError        = "link_child_error"
	EventJoinedRoomAck         = "joined_room_ack"
	EventJoinRoomError         = "join_room_error"
	EventReceiveLocation       = "receive_location"
	EventLocationRequestError  = "location_request_error"
	EventGetCurrentLocation    = "get_current_location"
)

// Envelope is the wire framing for every socket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LinkChildPayload carries a connection code a parent is redeeming.
type LinkChildPayload struct {
	ConnectionCode string `json:"connectionCode" validate:"required,len=6,alphanum"`
}

// ChildIDPayload carries a bare child id (join_child_room,
// request_current_location).
type ChildIDPayload struct {
	ChildID int64 `json:"childId" validate:"required,gt=0"`
}

// SendLocationPayload is a child's location report. Timestamp is client
// clock, unix milliseconds.
type SendLocationPayload struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Timestamp int64   `json:"timestamp" validate:"required,gt=0"`
}

// RegisterPushTokenPayload registers a device push token for the
// authenticated user.
type RegisterPushTokenPayload struct {
	Token string `json:"token" validate:"required,min=10,max=512"`
}

// ConnectionCodePayload is sent with receive_connection_code.
type ConnectionCodePayload struct {
	Code string `json:"code"`
}

// ChildSummary is one entry of update_children_list.
type ChildSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// LinkChildResult is sent with link_child_success.
type LinkChildResult struct {
	Message string       `json:"message"`
	Child   ChildSummary `json:"child"`
}

// ErrorPayload is the body of every *_error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomAckPayload is sent with joined_room_ack.
type RoomAckPayload struct {
	Room    string `json:"room"`
	ChildID int64  `json:"childId"`
}

// ReceiveLocationPayload is the fan-out body of receive_location. IsStale and
// UpdateRequested are only set on the cached-fallback path of an on-demand
// refresh.
type ReceiveLocationPayload struct {
	UserID          int64   `json:"userId"`
	Username        string  `json:"username"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Timestamp       int64   `json:"timestamp"`
	IsStale         bool    `json:"isStale,omitempty"`
	UpdateRequested bool    `json:"updateRequested,omitempty"`
}
