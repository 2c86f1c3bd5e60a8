// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package transcript

import (
	"time"

	"github.com/google/uuid"

	"github.com/darking1222/pinion-syncd/internal/models"
)

// Patch is one unconfirmed, user-initiated change layered over the
// server-derived transcript. A patch carries its intended outcome and a
// confirmation deadline: it survives contradicting poll results only for
// the fields it touches, and only until the server agrees or the
// deadline passes, whichever comes first. After that the server value
// wins unconditionally.
type Patch struct {
	ID        string
	Action    models.ActionType
	AppliedAt time.Time
	Deadline  time.Time

	// Intended outcome. Only the fields the action touches are set.
	Claimed   *bool
	ClaimedBy *string
	Status    *models.TicketStatus

	// Message is the locally composed message for a send action. Its ID
	// is a local uuid; the server assigns its own on confirmation.
	Message *models.Message
}

// NewClaimPatch builds the optimistic patch for a claim action.
func NewClaimPatch(actorID string, grace time.Duration) Patch {
	claimed := true
	now := time.Now()
	return Patch{
		ID:        uuid.NewString(),
		Action:    models.ActionClaim,
		AppliedAt: now,
		Deadline:  now.Add(grace),
		Claimed:   &claimed,
		ClaimedBy: &actorID,
	}
}

// NewClosePatch builds the optimistic patch for a close action.
func NewClosePatch(grace time.Duration) Patch {
	status := models.TicketClosed
	now := time.Now()
	return Patch{
		ID:        uuid.NewString(),
		Action:    models.ActionClose,
		AppliedAt: now,
		Deadline:  now.Add(grace),
		Status:    &status,
	}
}

// NewSendPatch builds the optimistic patch for a locally composed
// message.
func NewSendPatch(actorID, actorName, ticketID, content string, grace time.Duration) Patch {
	now := time.Now()
	return Patch{
		ID:        uuid.NewString(),
		Action:    models.ActionSend,
		AppliedAt: now,
		Deadline:  now.Add(grace),
		Message: &models.Message{
			ID:        uuid.NewString(),
			TicketID:  ticketID,
			AuthorID:  actorID,
			Author:    actorName,
			Content:   content,
			CreatedAt: now,
			Pending:   true,
		},
	}
}

// apply layers the patch's touched fields over a snapshot.
func (p Patch) apply(t *models.TicketTranscript) {
	if p.Claimed != nil {
		t.Claimed = *p.Claimed
	}
	if p.ClaimedBy != nil {
		t.ClaimedBy = *p.ClaimedBy
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Message != nil && !t.HasMessage(p.Message.ID) {
		t.Messages = append(t.Messages, *p.Message)
	}
}

// confirmedBy reports whether the server-derived transcript already
// reflects the patch's intended outcome.
func (p Patch) confirmedBy(server models.TicketTranscript) bool {
	if p.Claimed != nil && server.Claimed != *p.Claimed {
		return false
	}
	if p.ClaimedBy != nil && server.ClaimedBy != *p.ClaimedBy {
		return false
	}
	if p.Status != nil && server.Status != *p.Status {
		return false
	}
	if p.Message != nil {
		return serverHasEquivalent(server, *p.Message)
	}
	return true
}

// expired reports whether the confirmation deadline has passed.
func (p Patch) expired(now time.Time) bool {
	return now.After(p.Deadline)
}

// serverHasEquivalent matches a locally sent message against the server
// transcript. The server assigns its own message id, so the match is by
// author and content.
func serverHasEquivalent(server models.TicketTranscript, local models.Message) bool {
	for i := range server.Messages {
		m := &server.Messages[i]
		if m.AuthorID == local.AuthorID && m.Content == local.Content {
			return true
		}
	}
	return false
}
