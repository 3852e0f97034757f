// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"sync"
	"time"
)

// defaultTypingInterval is how often an active typing signal is re-asserted.
// GroupMe considers the signal stale after roughly a second.
const defaultTypingInterval = time.Second

// typingHeartbeats owns the repeating "user is typing" publishers, one per
// conversation at most. Starting a heartbeat for a conversation that
// already has one replaces it; stopping is deterministic, never relying on
// a timer draining on its own.
type typingHeartbeats struct {
	interval time.Duration
	publish  func(conversationID string)

	mu     sync.Mutex
	active map[string]*heartbeat
}

// heartbeat is one running publisher. done is closed by the run goroutine on
// exit so Stop/StopAll can wait for it instead of leaving a publish in
// flight.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
}

// newTypingHeartbeats creates a heartbeat registry. publish is invoked once
// immediately on Start and then once per interval until Stop.
func newTypingHeartbeats(interval time.Duration, publish func(conversationID string)) *typingHeartbeats {
	if interval <= 0 {
		interval = defaultTypingInterval
	}
	return &typingHeartbeats{
		interval: interval,
		publish:  publish,
		active:   make(map[string]*heartbeat),
	}
}

// Start begins (or restarts) the heartbeat for a conversation. When a
// heartbeat is already running for the conversation, it is stopped and
// waited for before the replacement starts, so two publishers never overlap.
func (t *typingHeartbeats) Start(conversationID string) {
	hb := &heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	prev := t.active[conversationID]
	t.active[conversationID] = hb
	t.mu.Unlock()
	if prev != nil {
		close(prev.stop)
		<-prev.done
	}

	go t.run(conversationID, hb)
}

func (t *typingHeartbeats) run(conversationID string, hb *heartbeat) {
	defer close(hb.done)
	t.publish(conversationID)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			// A stop racing the tick wins.
			select {
			case <-hb.stop:
				return
			default:
			}
			t.publish(conversationID)
		}
	}
}

// Stop cancels the heartbeat for a conversation and waits for its publisher
// to exit. A conversation with no active heartbeat is a no-op.
func (t *typingHeartbeats) Stop(conversationID string) {
	t.mu.Lock()
	hb, ok := t.active[conversationID]
	if ok {
		delete(t.active, conversationID)
	}
	t.mu.Unlock()
	if ok {
		close(hb.stop)
		<-hb.done
	}
}

// StopAll cancels every active heartbeat and waits for all publishers to
// exit. Used during session teardown.
func (t *typingHeartbeats) StopAll() {
	t.mu.Lock()
	stopped := make([]*heartbeat, 0, len(t.active))
	for conversationID, hb := range t.active {
		stopped = append(stopped, hb)
		delete(t.active, conversationID)
	}
	t.mu.Unlock()
	for _, hb := range stopped {
		close(hb.stop)
	}
	for _, hb := range stopped {
		<-hb.done
	}
}

// ActiveCount reports how many heartbeats are currently running.
func (t *typingHeartbeats) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
