// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

/*
manager.go - Realtime Connection Manager

Owns the single persistent websocket channel to the dashboard server:
the connect/reconnect state machine, the one active room membership, and
outbound acknowledgments. Room membership does not survive a
transport-level reconnect, so on every connected transition the manager
re-issues the join (and a replay request) for whatever room is current
BEFORE announcing connected to its subscribers: a consumer reacting to
connected may assume room traffic will resume.

Transport errors are never fatal. The manager keeps trying to restore
the connection, first on a jittered exponential backoff, then (once the
automatic attempt limit is reached) on the transport profile's slow
fallback timer, indefinitely.
*/
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/darking1222/pinion-syncd/internal/bus"
	"github.com/darking1222/pinion-syncd/internal/config"
	"github.com/darking1222/pinion-syncd/internal/logging"
	"github.com/darking1222/pinion-syncd/internal/metrics"
	"github.com/darking1222/pinion-syncd/internal/models"
)

// State is the connection state machine position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Emit when no transport is up. Room
// state changes are still recorded and reconciled on the next connect.
var ErrNotConnected = errors.New("realtime: not connected")

const writeTimeout = 5 * time.Second

// Status is a point-in-time view of the manager for diagnostics.
type Status struct {
	State   string `json:"state"`
	Room    string `json:"room,omitempty"`
	Attempt int    `json:"reconnect_attempt"`
}

// Manager owns the bidirectional event channel. Construct once with
// NewManager and run under the supervisor; all exported methods are safe
// for concurrent use.
type Manager struct {
	url        string
	authHeader string
	cfg        config.RealtimeConfig
	profile    config.TransportProfile
	bus        *bus.Bus
	dialer     websocket.Dialer
	limiter    *rate.Limiter

	mu          sync.RWMutex
	conn        *websocket.Conn
	state       State
	currentRoom string
	attempt     int

	writeMu sync.Mutex

	handlerMu   sync.RWMutex
	nextHandler int
	msgHandlers map[int]func(models.Message)
	stateSubs   map[int]func(State)
	rawHandlers map[string]map[int]func(json.RawMessage)
}

// NewManager creates the connection manager. The transport profile is
// resolved once here, not at call sites.
func NewManager(cfg config.RealtimeConfig, authHeader string, b *bus.Bus) *Manager {
	profile := cfg.ResolveTransportProfile()
	logging.Info().
		Str("profile", profile.Name).
		Dur("handshake_timeout", profile.HandshakeTimeout).
		Bool("compression", profile.EnableCompression).
		Msg("realtime transport profile resolved")

	return &Manager{
		url:        cfg.URL,
		authHeader: authHeader,
		cfg:        cfg,
		profile:    profile,
		bus:        b,
		dialer: websocket.Dialer{
			HandshakeTimeout:  profile.HandshakeTimeout,
			EnableCompression: profile.EnableCompression,
		},
		limiter:     rate.NewLimiter(rate.Limit(cfg.EmitRate), cfg.EmitBurst),
		msgHandlers: make(map[int]func(models.Message)),
		stateSubs:   make(map[int]func(State)),
		rawHandlers: make(map[string]map[int]func(json.RawMessage)),
	}
}

// Serve implements suture.Service: it keeps the channel alive until the
// context is canceled.
func (m *Manager) Serve(ctx context.Context) error {
	bo := m.newBackOff()
	attempt := 0

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		// A fresh cycle starts in connecting unless a previous session
		// was lost; then the machine holds reconnecting until the channel
		// is back up or the automatic attempts run out.
		if attempt == 0 && m.State() != StateReconnecting {
			m.setState(StateConnecting)
		}

		conn, err := m.dial(ctx)
		if err != nil {
			attempt++
			m.mu.Lock()
			m.attempt = attempt
			m.mu.Unlock()
			metrics.Reconnects.Inc()

			if m.profile.MaxAutoAttempts > 0 && attempt >= m.profile.MaxAutoAttempts {
				// Automatic attempts exhausted: report disconnected, then
				// let the fallback timer force another manual attempt.
				logging.Warn().Err(err).Int("attempts", attempt).
					Msg("reconnect attempts exhausted, falling back to slow retry")
				m.setState(StateDisconnected)
				if !sleepCtx(ctx, m.profile.FallbackRetryInterval) {
					return ctx.Err()
				}
				attempt = 0
				bo.Reset()
				continue
			}

			delay := bo.NextBackOff()
			logging.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).
				Msg("channel connect failed")
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.attempt = 0
		m.mu.Unlock()
		attempt = 0
		bo.Reset()

		// Invariant: room membership is reconciled before anyone hears
		// "connected".
		m.resubscribe()
		m.setState(StateConnected)
		logging.Info().Str("url", m.url).Msg("channel connected")

		pingDone := make(chan struct{})
		go m.pingLoop(conn, pingDone)

		readErr := m.readLoop(ctx, conn)
		close(pingDone)
		m.teardownConn(conn)

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}

		logging.Warn().Err(readErr).Msg("channel lost, reconnecting")
		m.setState(StateReconnecting)
	}
}

// String implements fmt.Stringer for supervisor logging.
func (m *Manager) String() string {
	return "realtime-channel"
}

// newBackOff builds the jittered exponential reconnect schedule.
func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectInitial
	bo.MaxInterval = m.cfg.ReconnectMax
	bo.RandomizationFactor = m.cfg.ReconnectJitter
	bo.MaxElapsedTime = 0 // the attempt limit bounds retries, not time
	bo.Reset()
	return bo
}

// dial opens one websocket connection.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.authHeader != "" {
		header.Set("Authorization", m.authHeader)
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop processes inbound frames until the connection fails.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		m.handleFrame(data)
	}
}

// handleFrame normalizes and dispatches one inbound frame. Malformed
// frames are dropped; they must not crash the loop or corrupt consumer
// state.
func (m *Manager) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.DroppedFrames.Inc()
		logging.Warn().Err(err).Msg("dropping unparseable frame")
		return
	}

	kind := NormalizeEvent(frame.Event)
	metrics.InboundEvents.WithLabelValues(kind.String()).Inc()

	switch kind {
	case KindMessage:
		var payload MessagePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Message.ID == "" {
			metrics.DroppedFrames.Inc()
			logging.Warn().Err(err).Str("event", frame.Event).Msg("dropping malformed message event")
			return
		}
		// Acknowledge every message-shaped event, whichever alias
		// delivered it.
		if err := m.Emit(EventMessageReceived, AckPayload{MessageID: payload.Message.ID}); err != nil {
			logging.Debug().Err(err).Str("message", payload.Message.ID).Msg("ack not sent")
		}
		m.dispatchMessage(payload.Message)

	case KindPresence:
		var update models.PresenceUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil || update.UserID == "" {
			metrics.DroppedFrames.Inc()
			return
		}
		if err := m.bus.PublishPresence(update); err != nil {
			logging.Warn().Err(err).Msg("failed to publish presence update")
		}

	case KindSettings:
		var update models.SettingsUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			metrics.DroppedFrames.Inc()
			return
		}
		if err := m.bus.PublishSettings(update); err != nil {
			logging.Warn().Err(err).Msg("failed to publish settings update")
		}

	default:
		m.dispatchRaw(frame.Event, frame.Data)
	}
}

// pingLoop keeps the connection alive until done is closed.
func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			m.writeMu.Unlock()
			if err != nil {
				logging.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// teardownConn closes one connection and clears it if still current.
func (m *Manager) teardownConn(conn *websocket.Conn) {
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

// JoinRoom makes roomID the single active room. Idempotent: joining the
// current room emits nothing. When a different room is active its leave
// is emitted first, then the join and a replay request. While
// disconnected only the desired room is recorded; membership is
// reconciled on the next connect.
func (m *Manager) JoinRoom(roomID string) {
	if roomID == "" {
		logging.Warn().Msg("ignoring join for empty room")
		return
	}

	m.mu.Lock()
	if m.currentRoom == roomID {
		m.mu.Unlock()
		logging.Debug().Str("room", roomID).Msg("already in room")
		return
	}
	previous := m.currentRoom
	m.currentRoom = roomID
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return
	}
	if previous != "" {
		if err := m.Emit(EventLeaveTicket, RoomPayload{RoomID: previous}); err != nil {
			logging.Warn().Err(err).Str("room", previous).Msg("leave not sent")
		}
	}
	m.emitJoin(roomID)
}

// LeaveRoom leaves the active room, if any.
func (m *Manager) LeaveRoom() {
	m.mu.Lock()
	room := m.currentRoom
	m.currentRoom = ""
	connected := m.state == StateConnected
	m.mu.Unlock()

	if room == "" {
		logging.Warn().Msg("leave requested with no active room")
		return
	}
	if connected {
		if err := m.Emit(EventLeaveTicket, RoomPayload{RoomID: room}); err != nil {
			logging.Warn().Err(err).Str("room", room).Msg("leave not sent")
		}
	}
}

// resubscribe re-issues the join and replay request for the current
// room. Called on every connected transition before subscribers are
// notified.
func (m *Manager) resubscribe() {
	m.mu.RLock()
	room := m.currentRoom
	m.mu.RUnlock()

	if room == "" {
		return
	}
	logging.Info().Str("room", room).Msg("rejoining room after (re)connect")
	m.emitJoin(room)
}

// emitJoin sends the join plus the immediate replay request.
func (m *Manager) emitJoin(roomID string) {
	if err := m.Emit(EventJoinTicket, RoomPayload{RoomID: roomID}); err != nil {
		logging.Warn().Err(err).Str("room", roomID).Msg("join not sent")
		return
	}
	metrics.RoomJoins.Inc()
	if err := m.Emit(EventGetTicketMessages, RoomPayload{RoomID: roomID}); err != nil {
		logging.Warn().Err(err).Str("room", roomID).Msg("replay request not sent")
	}
}

// Emit sends one frame on the channel. Subject to the outbound rate
// limit; returns ErrNotConnected when no transport is up.
func (m *Manager) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	res := m.limiter.Reserve()
	if !res.OK() {
		return errors.New("realtime: emit burst exceeds limiter capacity")
	}
	if delay := res.Delay(); delay > 0 {
		time.Sleep(delay)
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(Frame{Event: event, Data: data})
}

// OnMessage registers a handler for normalized transcript messages.
// Returns an unsubscribe func; a consumer that tears down must call it.
func (m *Manager) OnMessage(h func(models.Message)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.msgHandlers[id] = h
	return func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.msgHandlers, id)
	}
}

// OnStateChange registers a handler for state transitions. The rejoin
// for the active room is always issued before the connected callback.
func (m *Manager) OnStateChange(h func(State)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.stateSubs[id] = h
	return func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.stateSubs, id)
	}
}

// On registers a raw passthrough handler for an inbound event name the
// normalizer does not claim. Higher layers never touch the websocket
// directly.
func (m *Manager) On(event string, h func(json.RawMessage)) func() {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	if m.rawHandlers[event] == nil {
		m.rawHandlers[event] = make(map[int]func(json.RawMessage))
	}
	m.rawHandlers[event][id] = h
	return func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		delete(m.rawHandlers[event], id)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentRoom returns the active room id, or "".
func (m *Manager) CurrentRoom() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRoom
}

// Status returns a diagnostics snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:   m.state.String(),
		Room:    m.currentRoom,
		Attempt: m.attempt,
	}
}

// setState records a transition and notifies subscribers outside the
// lock.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	metrics.ConnectionState.Set(float64(s))

	m.handlerMu.RLock()
	subs := make([]func(State), 0, len(m.stateSubs))
	for _, h := range m.stateSubs {
		subs = append(subs, h)
	}
	m.handlerMu.RUnlock()
	for _, h := range subs {
		h(s)
	}
}

// dispatchMessage fans a normalized message out to registered handlers.
func (m *Manager) dispatchMessage(msg models.Message) {
	m.handlerMu.RLock()
	handlers := make([]func(models.Message), 0, len(m.msgHandlers))
	for _, h := range m.msgHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// dispatchRaw fans an unnormalized event out to passthrough handlers.
func (m *Manager) dispatchRaw(event string, data json.RawMessage) {
	m.handlerMu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(m.rawHandlers[event]))
	for _, h := range m.rawHandlers[event] {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()

	if len(handlers) == 0 {
		logging.Debug().Str("event", event).Msg("unhandled channel event")
		return
	}
	for _, h := range handlers {
		h(data)
	}
}

// sleepCtx waits for d or context cancellation; returns false when the
// context won.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
