// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package session consumes the dashboard-issued bearer token. The
// dashboard's auth layer is an external collaborator: this core never
// verifies the token signature (the server does that on every call), it
// only reads the claims to learn who the operator is and how long the
// browsing session lives. The session id scopes the durable profile
// store: a new token means a new session and the old store is discarded.
package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned by FromToken for a token already past its
// expiry. A token without an exp claim is accepted.
var ErrExpired = errors.New("session: token expired")

// Session is the decoded identity of one browsing session.
type Session struct {
	// ID scopes session-bound state. Taken from the jti claim when
	// present, otherwise derived from the token itself.
	ID string

	// UserID is the operating staff member's chat-platform id (sub).
	UserID string

	// Username is the display name claim, when the issuer includes one.
	Username string

	// ExpiresAt is the session deadline; zero when the token has no exp.
	ExpiresAt time.Time

	token string
}

// FromToken decodes a session from a dashboard bearer token.
func FromToken(token string) (*Session, error) {
	if token == "" {
		return nil, errors.New("session: empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("session: parse token: %w", err)
	}

	s := &Session{token: token}

	if sub, err := claims.GetSubject(); err == nil {
		s.UserID = sub
	}
	if name, ok := claims["name"].(string); ok {
		s.Username = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
		if time.Now().After(exp.Time) {
			return nil, ErrExpired
		}
	}

	if jti, ok := claims["jti"].(string); ok && jti != "" {
		s.ID = jti
	} else {
		s.ID = fingerprint(token)
	}
	return s, nil
}

// Authenticated reports whether the session is still inside its expiry.
func (s *Session) Authenticated() bool {
	if s == nil || s.token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}

// AuthHeader returns the Authorization header value for API calls.
func (s *Session) AuthHeader() string {
	return "Bearer " + s.token
}

// fingerprint derives a stable session id from the raw token for issuers
// that do not set jti.
func fingerprint(token string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return fmt.Sprintf("%016x", h.Sum64())
}
