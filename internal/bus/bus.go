// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

// Package bus is the process-wide notification fan-out for the
// synchronization core. Producers publish typed immutable payloads to
// named topics; any number of consumers subscribe without coupling to
// the producer. Built on Watermill's in-process gochannel pub/sub.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// Topics carried by the bus.
const (
	TopicProfileUpdated  = "profile.updated"
	TopicPresenceUpdated = "presence.updated"
	TopicSettingsUpdated = "settings.updated"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// ProfileUpdate is broadcast after every successful profile refresh.
type ProfileUpdate struct {
	ID      string               `json:"id"`
	Profile models.CachedProfile `json:"profile"`
}

// Bus is the in-process publish/subscribe hub. Constructed once at
// startup and closed only at shutdown.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
}

// New creates the bus. The output buffer absorbs short bursts (a poll
// replay can resolve dozens of profiles at once) without blocking
// publishers on slow consumers.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logging.NewWatermillAdapter()),
	}
}

// PublishProfile broadcasts a successful profile refresh.
func (b *Bus) PublishProfile(update ProfileUpdate) error {
	return publish(b, TopicProfileUpdated, update)
}

// PublishPresence broadcasts a presence/status change.
func (b *Bus) PublishPresence(update models.PresenceUpdate) error {
	return publish(b, TopicPresenceUpdated, update)
}

// PublishSettings broadcasts a settings/navigation change.
func (b *Bus) PublishSettings(update models.SettingsUpdate) error {
	return publish(b, TopicSettingsUpdated, update)
}

// SubscribeProfiles delivers profile updates until ctx is canceled.
func (b *Bus) SubscribeProfiles(ctx context.Context) (<-chan ProfileUpdate, error) {
	return subscribe[ProfileUpdate](b, ctx, TopicProfileUpdated)
}

// SubscribePresence delivers presence updates until ctx is canceled.
func (b *Bus) SubscribePresence(ctx context.Context) (<-chan models.PresenceUpdate, error) {
	return subscribe[models.PresenceUpdate](b, ctx, TopicPresenceUpdated)
}

// SubscribeSettings delivers settings updates until ctx is canceled.
func (b *Bus) SubscribeSettings(ctx context.Context) (<-chan models.SettingsUpdate, error) {
	return subscribe[models.SettingsUpdate](b, ctx, TopicSettingsUpdated)
}

// Close shuts the bus down. Subsequent publishes return ErrClosed and
// all subscriber channels are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// publish marshals the payload and hands it to the pub/sub fabric.
func publish[T any](b *Bus, topic string, payload T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// subscribe opens a raw subscription and decodes each message into T.
// Messages that fail to decode are acked and dropped; a poisoned
// payload must not wedge the topic for other events.
func subscribe[T any](b *Bus, ctx context.Context, topic string) (<-chan T, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	raw, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan T, cap(raw))
	go func() {
		defer close(out)
		for msg := range raw {
			var payload T
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				logging.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable bus message")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
