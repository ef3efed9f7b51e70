// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

package push

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/nestlink/nestlink/internal/directory"
	"github.com/nestlink/nestlink/internal/logging"
	"github.com/nestlink/nestlink/internal/metrics"
)

// Dispatcher partitions, chunks, and sends push messages, then requests one
// bulk token cleanup for everything that turned out dead during the call.
type Dispatcher struct {
	provider  Provider
	store     directory.Store
	chunkSize int
	limiter   *rate.Limiter
}

// NewDispatcher creates a Dispatcher. ratePerSecond <= 0 disables pacing.
func NewDispatcher(provider Provider, store directory.Store, chunkSize, ratePerSecond int) *Dispatcher {
	if chunkSize < 1 {
		chunkSize = 100
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		// The burst must cover a full chunk: WaitN(n) errors outright when n
		// exceeds the burst, which would drop every chunk under a rate
		// configured below the chunk size.
		burst := ratePerSecond
		if burst < chunkSize {
			burst = chunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &Dispatcher{
		provider:  provider,
		store:     store,
		chunkSize: chunkSize,
		limiter:   limiter,
	}
}

// Notification is the caller-facing shape of one dispatch: the same content
// addressed to a set of tokens. Empty Title and Body produce a silent push.
type Notification struct {
	Title string
	Body  string
	Data  map[string]interface{}

	// Silent marks a content-only push that wakes background processing.
	Silent bool
}

// Send delivers the notification to every token. Tokens with an invalid
// format are queued for removal without being sent; valid ones are chunked
// to the provider's size limit and each chunk is sent independently, so one
// failing chunk never blocks the rest. Receipts reporting permanent
// unregistration queue that token for removal; any other error reason is
// logged but retained, since it may be transient. One bulk removal covers
// the whole call.
//
// Never returns an error: push delivery is best-effort and failures must not
// interrupt the triggering request.
func (d *Dispatcher) Send(ctx context.Context, tokens []string, n Notification) {
	if len(tokens) == 0 {
		return
	}

	var messages []Message
	var removal []string
	for _, token := range tokens {
		if !ValidToken(token) {
			removal = append(removal, token)
			metrics.PushErrors.WithLabelValues("invalid_token").Inc()
			continue
		}
		msg := Message{
			To:    token,
			Title: n.Title,
			Body:  n.Body,
			Data:  n.Data,
		}
		if n.Silent {
			msg.Priority = "high"
			msg.ContentAvailable = true
		}
		messages = append(messages, msg)
	}

	for start := 0; start < len(messages); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(messages) {
			end = len(messages)
		}
		removal = append(removal, d.sendChunk(ctx, messages[start:end])...)
	}

	if len(removal) == 0 {
		return
	}
	if err := d.store.RemoveTokens(ctx, removal); err != nil {
		logging.Warn().Err(err).Int("tokens", len(removal)).Msg("push token cleanup failed")
		return
	}
	metrics.PushTokensRemoved.Add(float64(len(removal)))
	logging.Info().Int("tokens", len(removal)).Msg("removed dead push tokens")
}

// sendChunk sends one chunk and returns the tokens its receipts condemned.
// Chunk-level failures are logged and swallowed.
func (d *Dispatcher) sendChunk(ctx context.Context, chunk []Message) []string {
	if d.limiter != nil {
		if err := d.limiter.WaitN(ctx, len(chunk)); err != nil {
			logging.Warn().Err(err).Msg("push rate limit wait canceled")
			return nil
		}
	}

	receipts, err := d.provider.SendChunk(ctx, chunk)
	if err != nil {
		metrics.PushErrors.WithLabelValues("network").Inc()
		logging.Warn().Err(err).Int("messages", len(chunk)).Msg("push chunk failed")
		return nil
	}

	var removal []string
	for i, receipt := range receipts {
		switch {
		case receipt.OK():
			metrics.PushMessagesSent.Inc()
		case receipt.Unregistered():
			metrics.PushErrors.WithLabelValues("unregistered").Inc()
			removal = append(removal, chunk[i].To)
		default:
			// Transient or unknown provider errors keep the token.
			metrics.PushErrors.WithLabelValues("provider").Inc()
			logging.Warn().
				Str("reason", receipt.Details.Error).
				Str("message", receipt.Message).
				Msg("push message rejected")
		}
	}
	return removal
}
