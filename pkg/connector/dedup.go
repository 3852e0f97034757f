// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"sync"
	"time"
)

// defaultDedupWindow bounds how long an outbound registration waits for its
// echo before it is forgotten. Push latency is normally well under a second;
// the window only needs to outlive the worst of it.
const defaultDedupWindow = 60 * time.Second

// pendingEcho is one outbound message waiting for its push-feed echo.
type pendingEcho struct {
	senderID   string
	sourceGUID string
	insertedAt time.Time
}

// messageDeduplicator suppresses self-originated echoes: the push feed
// delivers every message in a conversation, including ones this session
// just sent over REST. Outbound sends register their source GUID here
// before the REST call goes out; the inbound path consumes the matching
// entry and drops the echo. Entries expire after the window so a lost echo
// cannot pin memory, at the accepted cost of a late echo being delivered
// as if it were a foreign message.
type messageDeduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	pending map[string][]pendingEcho
}

// newMessageDeduplicator creates a store with the given expiry window.
// A non-positive window selects the default.
func newMessageDeduplicator(window time.Duration) *messageDeduplicator {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &messageDeduplicator{
		window:  window,
		now:     time.Now,
		pending: make(map[string][]pendingEcho),
	}
}

// RegisterOutbound enqueues a pending echo for the conversation. It must be
// called before the REST send is issued so the entry exists before any
// possible echo arrives. An entry whose send later fails simply expires.
func (d *messageDeduplicator) RegisterOutbound(conversationID, senderID, sourceGUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.expireLocked(conversationID)
	d.pending[conversationID] = append(queue, pendingEcho{
		senderID:   senderID,
		sourceGUID: sourceGUID,
		insertedAt: d.now(),
	})
}

// ShouldSuppress reports whether an inbound message is the echo of a
// registered outbound send, consuming the matching entry. Matching is by
// exact (sender, source GUID) equality within the conversation; each entry
// suppresses at most one delivery.
func (d *messageDeduplicator) ShouldSuppress(conversationID, senderID, sourceGUID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.expireLocked(conversationID)
	for i, entry := range queue {
		if entry.senderID == senderID && entry.sourceGUID == sourceGUID {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(d.pending, conversationID)
			} else {
				d.pending[conversationID] = queue
			}
			return true
		}
	}
	if len(queue) == 0 {
		delete(d.pending, conversationID)
	} else {
		d.pending[conversationID] = queue
	}
	return false
}

// expireLocked drops entries older than the window from the conversation's
// queue and returns what remains. Caller must hold the mutex.
func (d *messageDeduplicator) expireLocked(conversationID string) []pendingEcho {
	queue := d.pending[conversationID]
	cutoff := d.now().Add(-d.window)
	kept := queue[:0]
	for _, entry := range queue {
		if entry.insertedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	return kept
}
