// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nestlink/nestlink/internal/models"
	"github.com/nestlink/nestlink/internal/socket"
)

// ErrUnauthorized rejects a handshake with a missing or invalid session
// token. Issuance of tokens belongs to the external auth service; here they
// are only verified.
var ErrUnauthorized = errors.New("missing or invalid session token")

// sessionClaims are the JWT claims a session token carries.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID        int64       `json:"userId"`
	Role          models.Role `json:"role"`
	Username      string      `json:"username"`
	LinkedUserIDs []int64     `json:"linkedUserIds"`
}

// sessionFromRequest authenticates a handshake request. The token is read
// from the Authorization bearer header or, for browser WebSocket clients
// that cannot set headers, the token query parameter.
func sessionFromRequest(r *http.Request, secret string) (socket.Session, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return socket.Session{}, ErrUnauthorized
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return socket.Session{}, ErrUnauthorized
	}

	if claims.UserID <= 0 || !claims.Role.Valid() {
		return socket.Session{}, ErrUnauthorized
	}

	return socket.Session{
		UserID:        claims.UserID,
		Role:          claims.Role,
		Username:      claims.Username,
		LinkedUserIDs: claims.LinkedUserIDs,
	}, nil
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
