// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import "testing"

// TestMakeDMConversationID_OrderIndependent verifies both participants
// derive the same conversation id.
func TestMakeDMConversationID_OrderIndependent(t *testing.T) {
	t.Parallel()
	a := MakeDMConversationID("1000", "2000")
	b := MakeDMConversationID("2000", "1000")
	if a != b {
		t.Fatalf("conversation ids differ: %q vs %q", a, b)
	}
	if a != "1000+2000" {
		t.Fatalf("unexpected conversation id %q", a)
	}
}

// TestIsDMConversation verifies group and DM ids are told apart.
func TestIsDMConversation(t *testing.T) {
	t.Parallel()
	if !IsDMConversation("1000+2000") {
		t.Fatal("expected pair id to be a DM conversation")
	}
	if IsDMConversation("12345678") {
		t.Fatal("expected plain group id not to be a DM conversation")
	}
}

// TestDMOtherUserID verifies the peer is extracted from a pair id.
func TestDMOtherUserID(t *testing.T) {
	t.Parallel()
	if got := DMOtherUserID("1000+2000", "1000"); got != "2000" {
		t.Fatalf("expected 2000, got %q", got)
	}
	if got := DMOtherUserID("1000+2000", "2000"); got != "1000" {
		t.Fatalf("expected 1000, got %q", got)
	}
}

// TestChannelNames verifies push channel derivation, including the escape
// of "+" which is not a valid Bayeux channel character.
func TestChannelNames(t *testing.T) {
	t.Parallel()
	if got := UserChannel("1000"); got != "/user/1000" {
		t.Fatalf("unexpected user channel %q", got)
	}
	if got := GroupChannel("12345678"); got != "/group/12345678" {
		t.Fatalf("unexpected group channel %q", got)
	}
	if got := DMChannel("1000+2000"); got != "/direct_message/1000_2000" {
		t.Fatalf("unexpected DM channel %q", got)
	}
	if got := ConversationChannel("1000+2000"); got != "/direct_message/1000_2000" {
		t.Fatalf("unexpected conversation channel %q", got)
	}
	if got := ConversationChannel("12345678"); got != "/group/12345678" {
		t.Fatalf("unexpected conversation channel %q", got)
	}
}

// TestMakeMessagePartID verifies the first part keeps the empty id so
// single-part messages stay compatible with plain message ids.
func TestMakeMessagePartID(t *testing.T) {
	t.Parallel()
	if got := MakeMessagePartID(0); got != "" {
		t.Fatalf("expected empty part id for index 0, got %q", got)
	}
	if got := MakeMessagePartID(2); got != "2" {
		t.Fatalf("expected part id 2, got %q", got)
	}
}
