// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
events.go - Channel Wire Protocol

Frames are JSON objects of the form {"event": "...", "data": {...}}.

The inbound side of the protocol accumulated several names for the same
fact as the bot evolved; the dashboard must treat them as synonyms. All
aliases are normalized here, at the channel boundary, so the transcript
merge logic never sees protocol spelling. The alias set is an external
compatibility requirement and must not be pruned.
*/
package realtime

import (
	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/models"
)

// Outbound event names (client → server).
const (
	EventJoinTicket        = "join_ticket"
	EventLeaveTicket       = "leave_ticket"
	EventGetTicketMessages = "get_ticket_messages"
	EventMessageReceived   = "message_received"
)

// Frame is the wire envelope for every channel event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload addresses a ticket room.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// MessagePayload wraps an inbound transcript message. Every aliased
// message event carries this same shape.
type MessagePayload struct {
	Message models.Message `json:"message"`
}

// AckPayload acknowledges receipt of one inbound message.
type AckPayload struct {
	MessageID string `json:"messageId"`
}

// Kind is the normalized type of an inbound event.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindPresence
	KindSettings
)

// String implements fmt.Stringer for metrics labels.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	case KindSettings:
		return "settings"
	default:
		return "unknown"
	}
}

// messageAliases lists every inbound event name that means "a transcript
// message arrived". All of them carry a MessagePayload and all of them
// are acknowledged with message_received.
var messageAliases = map[string]struct{}{
	"message":        {},
	"new_message":    {},
	"message_create": {},
	"message_sent":   {},
	"msg":            {},
	"ticket_message": {},
	"chat_message":   {},
}

// presenceAliases lists inbound names for a user presence/status change.
var presenceAliases = map[string]struct{}{
	"presence_update": {},
	"status":          {},
}

// settingsAliases lists inbound names for a dashboard settings change.
var settingsAliases = map[string]struct{}{
	"settings_update": {},
	"nav_update":      {},
}

// NormalizeEvent maps a wire event name to its internal kind.
func NormalizeEvent(event string) Kind {
	if _, ok := messageAliases[event]; ok {
		return KindMessage
	}
	if _, ok := presenceAliases[event]; ok {
		return KindPresence
	}
	if _, ok := settingsAliases[event]; ok {
		return KindSettings
	}
	return KindUnknown
}
