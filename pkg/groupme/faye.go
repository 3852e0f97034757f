// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package groupme

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame is a single Bayeux protocol message. Frames travel as JSON arrays
// on the wire; a reply carries the same id as the request it answers.
type Frame struct {
	Channel                  string          `json:"channel"`
	ClientID                 string          `json:"clientId,omitempty"`
	ID                       string          `json:"id,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
	Version                  string          `json:"version,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Ext                      map[string]any  `json:"ext,omitempty"`
	Successful               *bool           `json:"successful,omitempty"`
	Error                    string          `json:"error,omitempty"`
}

// PushHandler receives the data payload of every frame delivered on a
// subscribed channel.
type PushHandler func(data json.RawMessage)

// Extension can mutate outgoing frames before transmission. Extensions must
// not block; a panicking extension is recovered and the frame is sent
// unmodified so that transmission never stalls on extension bugs.
type Extension interface {
	Outgoing(frame *Frame)
}

// TokenExtension attaches the access token (and a unix timestamp) to
// subscription handshakes and to publishes on conversation data channels.
// Other frames pass through untouched.
type TokenExtension struct {
	Token string
	// Now is the clock used for the timestamp field. Defaults to time.Now.
	Now func() time.Time
}

func (t *TokenExtension) Outgoing(frame *Frame) {
	if !channelNeedsAuth(frame.Channel) {
		return
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}
	if frame.Ext == nil {
		frame.Ext = make(map[string]any, 2)
	}
	frame.Ext["access_token"] = t.Token
	frame.Ext["timestamp"] = now().Unix()
}

// channelNeedsAuth reports whether frames on the given channel must carry
// the access token: the subscription control channel and all conversation
// data channels.
func channelNeedsAuth(channel string) bool {
	return channel == "/meta/subscribe" ||
		strings.HasPrefix(channel, "/group/") ||
		strings.HasPrefix(channel, "/direct_message/")
}

// FayeClient is a Bayeux publish/subscribe client over WebSocket. It owns
// the connection, re-dials on transport drops and re-issues subscriptions
// for all registered channels after a reconnect.
type FayeClient struct {
	URL string

	mu         sync.Mutex
	conn       *websocket.Conn
	clientID   string
	extensions []Extension
	handlers   map[string]PushHandler
	pending    map[string]chan *Frame

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

// replyTimeout bounds how long Subscribe and Publish wait for the server's
// acknowledgement when the caller's context has no deadline of its own.
const replyTimeout = 30 * time.Second

// NewFayeClient creates a push client for the given WebSocket URL.
func NewFayeClient(url string, log zerolog.Logger) *FayeClient {
	return &FayeClient{
		URL:      url,
		handlers: make(map[string]PushHandler),
		pending:  make(map[string]chan *Frame),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "faye").Logger(),
	}
}

// AddExtension registers an outgoing-frame extension. Extensions run in
// registration order on every outgoing frame.
func (f *FayeClient) AddExtension(ext Extension) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extensions = append(f.extensions, ext)
}

// Connect dials the server, performs the Bayeux handshake and starts the
// long-running connect loop.
func (f *FayeClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push server: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go f.readLoop(conn)

	if err := f.handshake(ctx); err != nil {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
		return err
	}
	return f.sendConnect()
}

func (f *FayeClient) handshake(ctx context.Context) error {
	reply, err := f.request(ctx, &Frame{
		Channel:                  "/meta/handshake",
		Version:                  "1.0",
		SupportedConnectionTypes: []string{"websocket"},
	})
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	if reply.Successful == nil || !*reply.Successful || reply.ClientID == "" {
		return fmt.Errorf("handshake rejected: %s", reply.Error)
	}
	f.mu.Lock()
	f.clientID = reply.ClientID
	f.mu.Unlock()
	return nil
}

func (f *FayeClient) sendConnect() error {
	f.mu.Lock()
	clientID := f.clientID
	f.mu.Unlock()
	return f.send(&Frame{
		Channel:        "/meta/connect",
		ClientID:       clientID,
		ID:             uuid.NewString(),
		ConnectionType: "websocket",
	})
}

// Subscribe registers the handler for a channel and issues the subscribe
// handshake. Subscribing to a channel that already has a handler is a
// no-op: at most one handler is held per channel, so a repeated subscribe
// can never cause duplicate delivery.
func (f *FayeClient) Subscribe(ctx context.Context, channel string, handler PushHandler) error {
	f.mu.Lock()
	if _, ok := f.handlers[channel]; ok {
		f.mu.Unlock()
		return nil
	}
	f.handlers[channel] = handler
	clientID := f.clientID
	f.mu.Unlock()

	reply, err := f.request(ctx, &Frame{
		Channel:      "/meta/subscribe",
		ClientID:     clientID,
		Subscription: channel,
	})
	if err != nil {
		f.mu.Lock()
		delete(f.handlers, channel)
		f.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	if reply.Successful != nil && !*reply.Successful {
		f.mu.Lock()
		delete(f.handlers, channel)
		f.mu.Unlock()
		return fmt.Errorf("subscription to %s rejected: %s", channel, reply.Error)
	}
	return nil
}

// Publish sends a data frame to a channel and waits for the server's
// acknowledgement.
func (f *FayeClient) Publish(ctx context.Context, channel string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode publish payload: %w", err)
	}
	f.mu.Lock()
	clientID := f.clientID
	f.mu.Unlock()

	reply, err := f.request(ctx, &Frame{
		Channel:  channel,
		ClientID: clientID,
		Data:     payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	if reply.Successful != nil && !*reply.Successful {
		return fmt.Errorf("publish to %s rejected: %s", channel, reply.Error)
	}
	return nil
}

// Disconnect tears down the connection and stops all loops. Safe to call
// multiple times and on a client that never connected.
func (f *FayeClient) Disconnect() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
	f.mu.Lock()
	conn := f.conn
	clientID := f.clientID
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		// Best effort; the server drops all subscription state on close anyway.
		frame := &Frame{Channel: "/meta/disconnect", ClientID: clientID, ID: uuid.NewString()}
		_ = conn.WriteJSON([]*Frame{frame})
		conn.Close()
	}
}

// request sends a frame with a fresh id and waits for the matching reply.
func (f *FayeClient) request(ctx context.Context, frame *Frame) (*Frame, error) {
	frame.ID = uuid.NewString()
	replyChan := make(chan *Frame, 1)

	f.mu.Lock()
	f.pending[frame.ID] = replyChan
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.pending, frame.ID)
		f.mu.Unlock()
	}()

	if err := f.send(frame); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, replyTimeout)
		defer cancel()
	}
	select {
	case reply := <-replyChan:
		return reply, nil
	case <-f.stopChan:
		return nil, fmt.Errorf("client disconnected")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send applies extensions and writes the frame. Writes are serialized under
// the client mutex because the WebSocket connection allows one writer.
func (f *FayeClient) send(frame *Frame) error {
	f.applyExtensions(frame)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	return f.conn.WriteJSON([]*Frame{frame})
}

func (f *FayeClient) applyExtensions(frame *Frame) {
	f.mu.Lock()
	exts := make([]Extension, len(f.extensions))
	copy(exts, f.extensions)
	f.mu.Unlock()
	for _, ext := range exts {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.log.Warn().Interface("panic", r).Str("channel", frame.Channel).
						Msg("Outgoing extension panicked, sending frame unmodified")
				}
			}()
			ext.Outgoing(frame)
		}()
	}
}

func (f *FayeClient) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
				return
			default:
			}
			f.log.Warn().Err(err).Msg("Push connection lost, reconnecting")
			f.reconnect()
			return
		}

		var frames []*Frame
		if err := json.Unmarshal(payload, &frames); err != nil {
			f.log.Warn().Err(err).Msg("Failed to decode push frame batch")
			continue
		}
		for _, frame := range frames {
			f.route(frame)
		}
	}
}

// route dispatches a single inbound frame: replies go to the pending
// request, connect acknowledgements re-arm the connect loop, and data
// frames go to the channel handler.
func (f *FayeClient) route(frame *Frame) {
	if frame.ID != "" && frame.Successful != nil {
		f.mu.Lock()
		replyChan, ok := f.pending[frame.ID]
		f.mu.Unlock()
		if ok {
			replyChan <- frame
		}
		if frame.Channel == "/meta/connect" {
			f.rearmConnect()
		}
		return
	}

	switch {
	case frame.Channel == "/meta/connect":
		f.rearmConnect()
	case strings.HasPrefix(frame.Channel, "/meta/"):
		// Unsolicited meta frames carry nothing we act on.
	default:
		f.mu.Lock()
		handler, ok := f.handlers[frame.Channel]
		f.mu.Unlock()
		if ok {
			handler(frame.Data)
		}
	}
}

func (f *FayeClient) rearmConnect() {
	select {
	case <-f.stopChan:
		return
	default:
	}
	if err := f.sendConnect(); err != nil {
		f.log.Warn().Err(err).Msg("Failed to re-arm connect loop")
	}
}

// reconnect re-dials, re-handshakes and re-subscribes every registered
// channel. Runs until it succeeds or the client is stopped.
func (f *FayeClient) reconnect() {
	for delay := time.Second; ; delay = min(delay*2, 30*time.Second) {
		select {
		case <-f.stopChan:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		err := f.Connect(ctx)
		cancel()
		if err != nil {
			f.log.Warn().Err(err).Msg("Push reconnect attempt failed")
			continue
		}

		f.mu.Lock()
		channels := make([]string, 0, len(f.handlers))
		handlers := make(map[string]PushHandler, len(f.handlers))
		for channel, handler := range f.handlers {
			channels = append(channels, channel)
			handlers[channel] = handler
			delete(f.handlers, channel)
		}
		f.mu.Unlock()

		for _, channel := range channels {
			ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
			err := f.Subscribe(ctx, channel, handlers[channel])
			cancel()
			if err != nil {
				f.log.Error().Err(err).Str("channel", channel).Msg("Failed to restore subscription")
			}
		}
		f.log.Info().Int("channels", len(channels)).Msg("Push connection restored")
		return
	}
}
