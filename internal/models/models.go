// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package models defines the shared data types of the synchronization core:
// cached profiles, ticket transcripts, messages, and user actions.
//
// Types in this package are plain values. Ownership rules live with the
// components that mutate them (profile.Cache owns CachedProfile entries,
// transcript.Sync owns TicketTranscript snapshots); everything handed to
// other components is a copy.
package models

import (
	"time"
)

// CachedProfile is display-facing user data resolved from an external
// chat-platform id. Entries are created only by a successful fetch; a
// failed fetch never produces one.
type CachedProfile struct {
	ID          string    `json:"id"`
	AvatarURI   string    `json:"avatar_uri"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	FetchedAt   time.Time `json:"fetched_at"`

	// Placeholder marks a locally generated stand-in that never entered
	// the cache. Not persisted.
	Placeholder bool `json:"-"`
}

// FreshAt reports whether the entry is still inside its TTL at the given
// instant.
func (p CachedProfile) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.FetchedAt) < ttl
}

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Message is a single transcript entry. Messages are deduplicated by ID
// and append-only within a snapshot.
type Message struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"author_id"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Pending marks a locally sent message that has not yet been
	// confirmed by a poll or push event. Not part of the wire format.
	Pending bool `json:"-"`
}

// TicketTranscript is the full replaceable state of one ticket as of the
// last poll, plus any push-merged messages and optimistic patches.
type TicketTranscript struct {
	TicketID     string       `json:"ticket_id"`
	Messages     []Message    `json:"messages"`
	Claimed      bool         `json:"claimed"`
	ClaimedBy    string       `json:"claimed_by,omitempty"`
	Status       TicketStatus `json:"status"`
	LastPolledAt time.Time    `json:"last_polled_at"`
}

// Clone returns a deep copy of the transcript. Snapshots emitted to
// consumers are always clones so the owner can keep mutating its copy.
func (t TicketTranscript) Clone() TicketTranscript {
	out := t
	out.Messages = make([]Message, len(t.Messages))
	copy(out.Messages, t.Messages)
	return out
}

// HasMessage reports whether a message with the given id is already part
// of the transcript.
func (t TicketTranscript) HasMessage(id string) bool {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// ActionType identifies a user-initiated ticket mutation.
type ActionType string

const (
	ActionClaim ActionType = "claim"
	ActionClose ActionType = "close"
	ActionSend  ActionType = "send"
)

// TicketAction is a claim/close/send request posted to the dashboard
// API on behalf of the operating staff member.
type TicketAction struct {
	Type     ActionType `json:"type"`
	TicketID string     `json:"ticket_id"`
	ActorID  string     `json:"actor_id"`
	Content  string     `json:"content,omitempty"`
}

// PresenceUpdate is the normalized form of an inbound presence/status
// event, keyed by user id.
type PresenceUpdate struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// SettingsUpdate carries the replacement navigation/configuration object
// broadcast by the server when dashboard settings change. The payload is
// opaque to this core; it is fanned out as-is.
type SettingsUpdate struct {
	Navigation map[string]any `json:"navigation"`
}
