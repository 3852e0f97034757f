// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"testing"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// TestFetchMessages_BackwardOrdersAscending verifies that history fetched
// newest-first from the API is delivered oldest-first with a cursor at the
// oldest message.
func TestFetchMessages_BackwardOrdersAscending(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	fake.GroupMessages["g1"] = []*groupme.Message{
		{ID: "m3", GroupID: "g1", UserID: "2000", Text: "third", CreatedAt: 300},
		{ID: "m2", GroupID: "g1", UserID: "1000", Text: "second", CreatedAt: 200},
		{ID: "m1", GroupID: "g1", UserID: "2000", Text: "first", CreatedAt: 100},
	}
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal: makeTestPortal("g1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(resp.Messages))
	}
	for i, wantID := range []string{"m1", "m2", "m3"} {
		if string(resp.Messages[i].ID) != wantID {
			t.Fatalf("message %d: expected id %s, got %s", i, wantID, resp.Messages[i].ID)
		}
	}
	if !resp.Messages[1].Sender.IsFromMe {
		t.Fatal("expected own message to be marked IsFromMe")
	}
	if string(resp.Cursor) != "m1" {
		t.Fatalf("expected cursor at oldest message, got %q", resp.Cursor)
	}
	if !resp.HasMore {
		t.Fatal("expected HasMore for a non-empty page")
	}
}

// TestFetchMessages_SkipsSystemMessages verifies that system notices do not
// produce backfill entries.
func TestFetchMessages_SkipsSystemMessages(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	fake.GroupMessages["g1"] = []*groupme.Message{
		{ID: "m2", GroupID: "g1", UserID: "2000", Text: "hi", CreatedAt: 200},
		{ID: "m1", GroupID: "g1", UserID: "system", System: true, Text: "Alice joined", CreatedAt: 100},
	}
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal: makeTestPortal("g1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 || string(resp.Messages[0].ID) != "m2" {
		t.Fatalf("expected only the user message, got %+v", resp.Messages)
	}
}

// TestFetchMessages_ForwardCutsAtAnchor verifies that forward backfill only
// returns messages newer than the anchor.
func TestFetchMessages_ForwardCutsAtAnchor(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	fake.GroupMessages["g1"] = []*groupme.Message{
		{ID: "m3", GroupID: "g1", UserID: "2000", Text: "new", CreatedAt: 300},
		{ID: "m2", GroupID: "g1", UserID: "2000", Text: "anchor", CreatedAt: 200},
		{ID: "m1", GroupID: "g1", UserID: "2000", Text: "old", CreatedAt: 100},
	}
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal:  makeTestPortal("g1"),
		Forward: true,
		AnchorMessage: &database.Message{
			ID:        MakeMessageID("m2"),
			Timestamp: time.Unix(200, 0),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 || string(resp.Messages[0].ID) != "m3" {
		t.Fatalf("expected only messages after the anchor, got %+v", resp.Messages)
	}
	if resp.Cursor != "" {
		t.Fatalf("forward backfill should not set a cursor, got %q", resp.Cursor)
	}
}

// TestFetchMessages_DirectConversation verifies DM history is fetched via the
// direct message endpoint using the peer's user id.
func TestFetchMessages_DirectConversation(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	fake.DirectMessages["2000"] = []*groupme.Message{
		{ID: "d2", ChatID: "1000+2000", UserID: "1000", Text: "me", CreatedAt: 200},
		{ID: "d1", ChatID: "1000+2000", UserID: "2000", Text: "them", CreatedAt: 100},
	}
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal: makeTestPortal("1000+2000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if string(resp.Messages[0].ID) != "d1" {
		t.Fatalf("expected oldest message first, got %s", resp.Messages[0].ID)
	}
}

// TestFetchMessages_CountCapsPage verifies the page is trimmed to the
// requested count, keeping the newest messages.
func TestFetchMessages_CountCapsPage(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	fake.GroupMessages["g1"] = []*groupme.Message{
		{ID: "m3", GroupID: "g1", UserID: "2000", Text: "c", CreatedAt: 300},
		{ID: "m2", GroupID: "g1", UserID: "2000", Text: "b", CreatedAt: 200},
		{ID: "m1", GroupID: "g1", UserID: "2000", Text: "a", CreatedAt: 100},
	}
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal: makeTestPortal("g1"),
		Count:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if string(resp.Messages[0].ID) != "m2" || string(resp.Messages[1].ID) != "m3" {
		t.Fatalf("expected the newest messages, got %+v", resp.Messages)
	}
}

// TestFetchMessages_EmptyHistory verifies an empty conversation ends
// pagination.
func TestFetchMessages_EmptyHistory(t *testing.T) {
	t.Parallel()
	fake := newFakeGroupMe()
	t.Cleanup(fake.Close)
	gm := newTestClient(fake)

	resp, err := gm.FetchMessages(context.Background(), bridgev2.FetchMessagesParams{
		Portal: makeTestPortal("g1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 0 || resp.HasMore {
		t.Fatalf("expected empty final page, got %+v", resp)
	}
}
