// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package push batches and sends push notifications through the Expo push
// service, interprets per-message delivery outcomes, and requests cleanup of
// dead tokens from the directory. All failures here are soft: logged,
// counted, never surfaced to the request that triggered the dispatch.
package push

import "regexp"

// tokenPattern matches the Expo push token wire format. Both historical
// prefixes are accepted.
var tokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[[A-Za-z0-9_-]+\]$`)

// ValidToken reports whether a token is syntactically sendable. Tokens that
// fail this check are queued for removal without ever being sent.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}
