// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package realtime

import "testing"

func TestNormalizeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event string
		want  Kind
	}{
		// Every historical spelling of "a transcript message arrived".
		{"message", KindMessage},
		{"new_message", KindMessage},
		{"message_create", KindMessage},
		{"message_sent", KindMessage},
		{"msg", KindMessage},
		{"ticket_message", KindMessage},
		{"chat_message", KindMessage},

		{"presence_update", KindPresence},
		{"status", KindPresence},

		{"settings_update", KindSettings},
		{"nav_update", KindSettings},

		{"typing", KindUnknown},
		{"", KindUnknown},
		{"MESSAGE", KindUnknown}, // event names are case-sensitive
	}

	for _, tt := range tests {
		if got := NormalizeEvent(tt.event); got != tt.want {
			t.Errorf("NormalizeEvent(%q) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestMessageAliasCount(t *testing.T) {
	t.Parallel()

	// The alias set is an external compatibility surface; shrinking it
	// silently drops messages from older bot versions.
	if len(messageAliases) < 6 {
		t.Errorf("messageAliases has %d entries, want at least 6", len(messageAliases))
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{KindMessage, "message"},
		{KindPresence, "presence"},
		{KindSettings, "settings"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("%v.String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
