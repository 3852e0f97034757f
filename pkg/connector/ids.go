// Copyright 2024-2026 Chad Ouming

package connector

import (
	"sort"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"
)

// Conversation ids double as portal ids. Groups use the raw group id; direct
// conversations use the two participant ids sorted and joined with "+", so
// both sides derive the same room no matter who looks it up.

// MakePortalID creates a networkid.PortalID from a GroupMe conversation ID.
func MakePortalID(conversationID string) networkid.PortalID {
	return networkid.PortalID(conversationID)
}

// ParsePortalID extracts the GroupMe conversation ID from a PortalID.
func ParsePortalID(portalID networkid.PortalID) string {
	return string(portalID)
}

// MakeUserID creates a networkid.UserID from a GroupMe user ID.
func MakeUserID(userID string) networkid.UserID {
	return networkid.UserID(userID)
}

// ParseUserID extracts the GroupMe user ID from a networkid.UserID.
func ParseUserID(userID networkid.UserID) string {
	return string(userID)
}

// MakeMessageID creates a networkid.MessageID from a GroupMe message ID.
func MakeMessageID(messageID string) networkid.MessageID {
	return networkid.MessageID(messageID)
}

// ParseMessageID extracts the GroupMe message ID from a MessageID.
func ParseMessageID(messageID networkid.MessageID) string {
	return string(messageID)
}

// MakeMessagePartID creates a networkid.PartID for message parts (e.g., attachments).
func MakeMessagePartID(index int) networkid.PartID {
	if index == 0 {
		return ""
	}
	return networkid.PartID(strconv.Itoa(index))
}

// MakeEmojiID creates a networkid.EmojiID. GroupMe only has the like
// reaction, so this is almost always the heart.
func MakeEmojiID(emoji string) networkid.EmojiID {
	return networkid.EmojiID(emoji)
}

// ParseEmojiID extracts the emoji key from an EmojiID.
func ParseEmojiID(emojiID networkid.EmojiID) string {
	return string(emojiID)
}

// makePortalKey creates a networkid.PortalKey from a GroupMe conversation ID.
func makePortalKey(conversationID string) networkid.PortalKey {
	return networkid.PortalKey{
		ID: MakePortalID(conversationID),
	}
}

// MakeDMConversationID derives the canonical direct-conversation id for a
// pair of users: both ids sorted, joined with "+".
func MakeDMConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "+")
}

// IsDMConversation reports whether a conversation id names a direct
// conversation rather than a group.
func IsDMConversation(conversationID string) bool {
	return strings.Contains(conversationID, "+")
}

// DMOtherUserID returns the participant of a direct conversation that is
// not selfID, or empty if the id is not a direct conversation.
func DMOtherUserID(conversationID, selfID string) string {
	for _, part := range strings.Split(conversationID, "+") {
		if part != selfID {
			return part
		}
	}
	return ""
}

// UserChannel is the personal push channel carrying all of a user's events.
func UserChannel(userID string) string {
	return "/user/" + userID
}

// GroupChannel is the push channel for group-scoped events (likes, typing).
func GroupChannel(groupID string) string {
	return "/group/" + groupID
}

// DMChannel is the push channel for a direct conversation. The "+" in the
// conversation id is not a valid channel character and is escaped to "_".
func DMChannel(conversationID string) string {
	return "/direct_message/" + strings.ReplaceAll(conversationID, "+", "_")
}

// ConversationChannel picks the data channel for any conversation id.
func ConversationChannel(conversationID string) string {
	if IsDMConversation(conversationID) {
		return DMChannel(conversationID)
	}
	return GroupChannel(conversationID)
}
