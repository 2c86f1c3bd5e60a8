// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package config

import (
	"os"
	"time"
)

// TransportProfile tunes the websocket transport for a class of network
// environment. The protocol grew these knobs for environments where
// upgrade-capable transports are unreliable (TLS-intercepting proxies,
// aggressive middleboxes): longer handshakes, the most compatible frame
// mode, and retry that never gives up.
type TransportProfile struct {
	Name string

	HandshakeTimeout time.Duration

	// EnableCompression negotiates permessage-deflate. Off in the
	// restricted profile: intermediaries mangle compressed frames more
	// often than they drop plain ones.
	EnableCompression bool

	// MaxAutoAttempts bounds the automatic reconnect cycle before the
	// manager reports disconnected. 0 means unbounded.
	MaxAutoAttempts int

	// FallbackRetryInterval, when non-zero, forces a fresh connect
	// attempt at this cadence even after MaxAutoAttempts is exhausted,
	// so the channel keeps trying indefinitely.
	FallbackRetryInterval time.Duration
}

// transportProfiles is the fixed environment→tuning table, resolved once
// at connection-manager construction.
var transportProfiles = map[string]TransportProfile{
	"default": {
		Name:              "default",
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
		MaxAutoAttempts:   10,
		// Even the default profile falls back to slow manual retries
		// rather than staying down forever.
		FallbackRetryInterval: 60 * time.Second,
	},
	"restricted": {
		Name:                  "restricted",
		HandshakeTimeout:      30 * time.Second,
		EnableCompression:     false,
		MaxAutoAttempts:       0, // never stop trying
		FallbackRetryInterval: 30 * time.Second,
	},
}

// ResolveTransportProfile returns the transport profile for the
// configured environment. "auto" detects restricted egress from the
// process environment.
func (c RealtimeConfig) ResolveTransportProfile() TransportProfile {
	name := c.Environment
	if name == "" || name == "auto" {
		name = detectEnvironment()
	}
	if p, ok := transportProfiles[name]; ok {
		return p
	}
	return transportProfiles["default"]
}

// detectEnvironment inspects the process environment for the capability
// flag that marks restricted egress: a mandatory HTTP(S) proxy.
func detectEnvironment() string {
	for _, v := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if os.Getenv(v) != "" {
			return "restricted"
		}
	}
	return "default"
}
