// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
sync.go - Ticket Transcript Synchronization

Keeps one ticket's transcript eventually consistent against a channel
that can silently die, by combining two sources:

  - push events merged as they arrive, to make chat feel immediate;
  - a fixed-interval poll of the HTTP transcript endpoint, which is
    authoritative and fully replaces the server-derived state.

User actions (claim/close/send) are applied optimistically as patches on
top of the server-derived state, so a stale poll result racing the
user's own action never makes the UI appear to regress.

The daemon never opens transcripts on its own. This package is the
consumer-facing surface: the embedding dashboard constructs one Sync per
viewed ticket, feeds its snapshots to the view, and closes it on
navigation.
*/
package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/metrics"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// API is the request/response collaborator for polls and actions.
type API interface {
	FetchTranscript(ctx context.Context, ticketID string) (models.TicketTranscript, error)
	PostAction(ctx context.Context, action models.TicketAction) error
}

// Channel is the slice of the connection manager this consumer needs.
type Channel interface {
	JoinRoom(roomID string)
	OnMessage(h func(models.Message)) func()
}

// Config tunes the synchronization loop.
type Config struct {
	PollInterval  time.Duration
	PatchGrace    time.Duration
	ActionTimeout time.Duration
}

// Actor identifies the staff member performing actions.
type Actor struct {
	ID   string
	Name string
}

// Sync is the per-ticket consumer. Open starts it; Close must be called
// when the consumer navigates away or the poll timer and push
// subscription are leaked.
type Sync struct {
	api     API
	channel Channel
	config  Config
	actor   Actor

	mu       sync.Mutex
	ticketID string
	server   models.TicketTranscript // server-derived state (polls + pushes)
	patches  []Patch
	pushed   []pushEntry // pushes since the last completed poll
	running  bool

	updates chan models.TicketTranscript
	errs    chan error

	stopChan    chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

// pushEntry records when a pushed message was merged, so a poll response
// that was already in flight does not erase it.
type pushEntry struct {
	msg models.Message
	at  time.Time
}

// New creates a transcript synchronizer for one ticket view.
func New(api API, channel Channel, actor Actor, config Config) *Sync {
	return &Sync{
		api:     api,
		channel: channel,
		config:  config,
		actor:   actor,
		updates: make(chan models.TicketTranscript, 1),
		errs:    make(chan error, 8),
	}
}

// Open joins the ticket's room, subscribes to push events and starts
// the poll loop. The returned channel carries the latest snapshot; slow
// consumers only ever miss intermediate states, never the newest one.
func (s *Sync) Open(ticketID string) (<-chan models.TicketTranscript, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("transcript: already open for ticket %s", s.ticketID)
	}
	s.running = true
	s.ticketID = ticketID
	s.server = models.TicketTranscript{TicketID: ticketID, Status: models.TicketOpen}
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.channel.JoinRoom(ticketID)
	s.unsubscribe = s.channel.OnMessage(s.handlePush)

	s.wg.Add(1)
	go s.pollLoop()

	return s.updates, nil
}

// Close stops the poll loop and push subscription. It does not leave
// the room: another consumer may still want it.
func (s *Sync) Close() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.wg.Wait()
	close(s.updates)
}

// Errors delivers user-visible action failures.
func (s *Sync) Errors() <-chan error {
	return s.errs
}

// Snapshot returns the current visible transcript.
func (s *Sync) Snapshot() models.TicketTranscript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

// Claim optimistically claims the ticket and posts the action.
func (s *Sync) Claim(ctx context.Context) error {
	return s.act(ctx, NewClaimPatch(s.actor.ID, s.config.PatchGrace), models.TicketAction{
		Type:     models.ActionClaim,
		TicketID: s.currentTicket(),
		ActorID:  s.actor.ID,
	})
}

// CloseTicket optimistically closes the ticket and posts the action.
func (s *Sync) CloseTicket(ctx context.Context) error {
	return s.act(ctx, NewClosePatch(s.config.PatchGrace), models.TicketAction{
		Type:     models.ActionClose,
		TicketID: s.currentTicket(),
		ActorID:  s.actor.ID,
	})
}

// SendMessage optimistically appends a message and posts the action.
func (s *Sync) SendMessage(ctx context.Context, content string) error {
	ticketID := s.currentTicket()
	return s.act(ctx, NewSendPatch(s.actor.ID, s.actor.Name, ticketID, content, s.config.PatchGrace),
		models.TicketAction{
			Type:     models.ActionSend,
			TicketID: ticketID,
			ActorID:  s.actor.ID,
			Content:  content,
		})
}

// ApplyOptimistic layers a patch over the visible snapshot immediately,
// before any server confirmation.
func (s *Sync) ApplyOptimistic(p Patch) {
	s.mu.Lock()
	s.patches = append(s.patches, p)
	s.emitLocked()
	s.mu.Unlock()
}

// act applies the patch, posts the action, and reverts the patch with a
// surfaced error on failure. Other in-flight patches are unaffected.
func (s *Sync) act(ctx context.Context, p Patch, action models.TicketAction) error {
	s.ApplyOptimistic(p)

	ctx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()

	if err := s.api.PostAction(ctx, action); err != nil {
		s.revert(p.ID)
		metrics.OptimisticPatches.WithLabelValues("reverted").Inc()
		err = fmt.Errorf("transcript: %s failed: %w", action.Type, err)
		s.pushError(err)
		return err
	}
	return nil
}

// revert removes one patch and re-emits the snapshot without it.
func (s *Sync) revert(patchID string) {
	s.mu.Lock()
	for i := range s.patches {
		if s.patches[i].ID == patchID {
			s.patches = append(s.patches[:i], s.patches[i+1:]...)
			break
		}
	}
	s.emitLocked()
	s.mu.Unlock()
}

// pollLoop polls the transcript endpoint at a fixed interval. A failed
// poll is logged and retried on the next tick; it never clears the
// existing snapshot.
func (s *Sync) pollLoop() {
	defer s.wg.Done()

	s.poll()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll fetches the full transcript and merges it as the authoritative
// state.
func (s *Sync) poll() {
	issuedAt := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.PollInterval)
	defer cancel()

	resp, err := s.api.FetchTranscript(ctx, s.currentTicket())
	if err != nil {
		metrics.TranscriptPolls.WithLabelValues("failure").Inc()
		logging.Warn().Err(err).Str("ticket", s.currentTicket()).Msg("transcript poll failed")
		return
	}
	metrics.TranscriptPolls.WithLabelValues("success").Inc()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	// The poll response supersedes everything push-merged before it was
	// issued. Messages pushed while it was in flight are re-applied on
	// top so they are not lost.
	resp.TicketID = s.ticketID
	resp.LastPolledAt = issuedAt
	remaining := s.pushed[:0]
	for _, entry := range s.pushed {
		if entry.at.Before(issuedAt) {
			continue
		}
		if !resp.HasMessage(entry.msg.ID) {
			resp.Messages = append(resp.Messages, entry.msg)
		}
		remaining = append(remaining, entry)
	}
	s.pushed = remaining
	s.server = resp

	s.reconcileLocked()
	s.emitLocked()
	s.mu.Unlock()
}

// handlePush merges one pushed message between polls.
func (s *Sync) handlePush(msg models.Message) {
	s.mu.Lock()
	if !s.running || (msg.TicketID != "" && msg.TicketID != s.ticketID) {
		s.mu.Unlock()
		return
	}
	if s.server.HasMessage(msg.ID) {
		s.mu.Unlock()
		return
	}
	s.server.Messages = append(s.server.Messages, msg)
	s.pushed = append(s.pushed, pushEntry{msg: msg, at: time.Now()})
	metrics.TranscriptPushMerges.Inc()

	s.reconcileLocked()
	s.emitLocked()
	s.mu.Unlock()
}

// reconcileLocked settles patches against the server-derived state:
// confirmed patches are dropped (the server now says the same thing),
// expired ones are dropped too (the server wins after the grace
// period), the rest keep shadowing their fields.
func (s *Sync) reconcileLocked() {
	now := time.Now()
	kept := s.patches[:0]
	for _, p := range s.patches {
		switch {
		case p.confirmedBy(s.server):
			metrics.OptimisticPatches.WithLabelValues("confirmed").Inc()
		case p.expired(now):
			metrics.OptimisticPatches.WithLabelValues("expired").Inc()
			logging.Debug().Str("action", string(p.Action)).Msg("optimistic patch expired, server wins")
		default:
			kept = append(kept, p)
		}
	}
	s.patches = kept
}

// visibleLocked builds the snapshot handed to consumers: the
// server-derived state with unconfirmed patches layered on top.
func (s *Sync) visibleLocked() models.TicketTranscript {
	snap := s.server.Clone()
	for _, p := range s.patches {
		p.apply(&snap)
	}
	return snap
}

// emitLocked delivers the latest snapshot, displacing an unconsumed
// older one. Must be called with s.mu held: the running check is what
// keeps a late push from writing to a closed updates channel, and the
// single writer guarantees the drain-then-send loop terminates.
func (s *Sync) emitLocked() {
	if !s.running {
		return
	}
	snap := s.visibleLocked()
	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// pushError surfaces an action failure without blocking.
func (s *Sync) pushError(err error) {
	select {
	case s.errs <- err:
	default:
		logging.Warn().Err(err).Msg("dropping unconsumed action error")
	}
}

func (s *Sync) currentTicket() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketID
}
