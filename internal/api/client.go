// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
client.go - Dashboard API Client

Request/response collaborator endpoints consumed by the core:

	GET  /api/users/{id}             one external user's profile
	GET  /api/tickets/{id}           a ticket's full transcript
	POST /api/tickets/{id}/actions   claim/close/send-message

These are the authoritative sources for profile refreshes and
transcript polls; the push channel only makes them feel immediate.
*/
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/models"
	"github.com/darking1222/pinion-syncd/internal/session"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("api: not found")

// Client talks to the dashboard HTTP API. All methods are safe for
// concurrent use.
type Client struct {
	baseURL    string
	sess       *session.Session
	httpClient *http.Client
}

// userResponse is the wire shape of GET /api/users/{id}.
type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// NewClient creates a dashboard API client authenticated by the given
// session.
func NewClient(baseURL string, sess *session.Session, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sess:    sess,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchProfile retrieves one external user's profile by id.
func (c *Client) FetchProfile(ctx context.Context, id string) (models.CachedProfile, error) {
	var resp userResponse
	if err := c.getJSON(ctx, "/api/users/"+id, &resp); err != nil {
		return models.CachedProfile{}, err
	}
	return models.CachedProfile{
		ID:          resp.ID,
		AvatarURI:   resp.AvatarURL,
		Username:    resp.Username,
		DisplayName: resp.DisplayName,
		FetchedAt:   time.Now(),
	}, nil
}

// FetchTranscript retrieves a ticket's full transcript by id.
func (c *Client) FetchTranscript(ctx context.Context, ticketID string) (models.TicketTranscript, error) {
	var resp models.TicketTranscript
	if err := c.getJSON(ctx, "/api/tickets/"+ticketID, &resp); err != nil {
		return models.TicketTranscript{}, err
	}
	if resp.TicketID == "" {
		resp.TicketID = ticketID
	}
	return resp, nil
}

// PostAction submits a claim/close/send action for a ticket.
func (c *Client) PostAction(ctx context.Context, action models.TicketAction) error {
	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("api: marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/tickets/"+action.TicketID+"/actions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.sess.AuthHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: post action: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api: post action: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// getJSON performs an authenticated GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.sess.AuthHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: get %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("api: get %s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("api: get %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// drainAndClose consumes the remainder of a response body so the
// underlying connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
