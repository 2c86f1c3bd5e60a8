// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestFromTokenClaims(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour)
	token := signedToken(t, jwt.MapClaims{
		"jti":  "session-42",
		"sub":  "user-1001",
		"name": "kara",
		"exp":  exp.Unix(),
	})

	sess, err := FromToken(token)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if sess.ID != "session-42" {
		t.Errorf("ID = %q, want session-42", sess.ID)
	}
	if sess.UserID != "user-1001" {
		t.Errorf("UserID = %q, want user-1001", sess.UserID)
	}
	if sess.Username != "kara" {
		t.Errorf("Username = %q, want kara", sess.Username)
	}
	if sess.ExpiresAt.Unix() != exp.Unix() {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, exp)
	}
	if !sess.Authenticated() {
		t.Error("Authenticated() = false for live session")
	}
	if got := sess.AuthHeader(); got != "Bearer "+token {
		t.Errorf("AuthHeader = %q", got)
	}
}

func TestFromTokenFingerprintFallback(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{"sub": "user-1001"})

	first, err := FromToken(token)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if len(first.ID) != 16 {
		t.Fatalf("fingerprint id %q, want 16 hex chars", first.ID)
	}
	if strings.ContainsAny(first.ID, "ghijklmnopqrstuvwxyz") {
		t.Fatalf("fingerprint id %q is not hex", first.ID)
	}

	// Same token must map to the same session-scoped store.
	second, err := FromToken(token)
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("fingerprint not stable: %q vs %q", first.ID, second.ID)
	}

	other, err := FromToken(signedToken(t, jwt.MapClaims{"sub": "user-2002"}))
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if other.ID == first.ID {
		t.Error("different tokens produced the same fingerprint")
	}
}

func TestFromTokenExpired(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{
		"sub": "user-1001",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := FromToken(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("FromToken error = %v, want ErrExpired", err)
	}
}

func TestFromTokenInvalid(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "not-a-jwt", "a.b"} {
		if _, err := FromToken(token); err == nil {
			t.Errorf("FromToken(%q) succeeded, want error", token)
		}
	}
}

func TestFromTokenNoExpiry(t *testing.T) {
	t.Parallel()

	sess, err := FromToken(signedToken(t, jwt.MapClaims{"sub": "user-1001"}))
	if err != nil {
		t.Fatalf("FromToken: %v", err)
	}
	if !sess.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", sess.ExpiresAt)
	}
	if !sess.Authenticated() {
		t.Error("Authenticated() = false for token without exp")
	}
}

func TestAuthenticatedNil(t *testing.T) {
	t.Parallel()

	var sess *Session
	if sess.Authenticated() {
		t.Error("nil session reported authenticated")
	}
}
