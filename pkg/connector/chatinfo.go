// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// GetChatInfo fetches the current metadata of a portal's conversation.
func (gm *GroupMeClient) GetChatInfo(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
	conversationID := ParsePortalID(portal.ID)
	if IsDMConversation(conversationID) {
		otherUserID := DMOtherUserID(conversationID, gm.userID)
		chats, err := gm.rest.Chats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch direct conversations: %w", err)
		}
		for _, chat := range chats {
			if chat.OtherUser.ID == otherUserID {
				return gm.chatToChatInfo(chat), nil
			}
		}
		return nil, fmt.Errorf("direct conversation with %s not found", otherUserID)
	}

	group, err := gm.rest.Group(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group: %w", err)
	}
	return gm.groupToChatInfo(group), nil
}

// GetUserInfo fetches the profile of a remote user. GroupMe has no profile
// lookup endpoint, so the profile is assembled from the conversations the
// user is visible in.
func (gm *GroupMeClient) GetUserInfo(ctx context.Context, ghost *bridgev2.Ghost) (*bridgev2.UserInfo, error) {
	userID := ParseUserID(ghost.ID)

	chats, err := gm.rest.Chats(ctx)
	if err == nil {
		for _, chat := range chats {
			if chat.OtherUser.ID == userID {
				return gm.makeUserInfo(userID, chat.OtherUser.Name, "", chat.OtherUser.AvatarURL), nil
			}
		}
	}

	groups, err := gm.rest.Groups(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	for _, group := range groups {
		for _, member := range group.Members {
			if member.UserID == userID {
				return gm.makeUserInfo(userID, member.Name, member.Nickname, member.ImageURL), nil
			}
		}
	}
	return nil, fmt.Errorf("user %s not found in any conversation", userID)
}

func (gm *GroupMeClient) makeUserInfo(userID, name, nickname, avatarURL string) *bridgev2.UserInfo {
	displayname := gm.connector.Config.FormatDisplayname(DisplaynameParams{
		Name:     name,
		Nickname: nickname,
		UserID:   userID,
	})

	return &bridgev2.UserInfo{
		Identifiers: []string{
			fmt.Sprintf("groupme:%s", userID),
		},
		Name:   &displayname,
		Avatar: gm.makeAvatar(avatarURL),
	}
}

// groupToChatInfo converts a GroupMe group and its member roster to a
// bridgev2.ChatInfo.
func (gm *GroupMeClient) groupToChatInfo(group *groupme.Group) *bridgev2.ChatInfo {
	roomType := database.RoomTypeDefault
	name := group.Name

	memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(group.Members))
	for _, member := range group.Members {
		chatMember := bridgev2.ChatMember{
			EventSender: bridgev2.EventSender{
				Sender:   MakeUserID(member.UserID),
				IsFromMe: member.UserID == gm.userID,
			},
			Membership: event.MembershipJoin,
		}
		// Group owners and admins map to Matrix moderators.
		for _, role := range member.Roles {
			if role == "owner" || role == "admin" {
				pl := 50
				chatMember.PowerLevel = &pl
				break
			}
		}
		memberMap[MakeUserID(member.UserID)] = chatMember
	}

	chatInfo := &bridgev2.ChatInfo{
		Name:   &name,
		Avatar: gm.makeAvatar(group.ImageURL),
		Type:   &roomType,
		Members: &bridgev2.ChatMemberList{
			IsFull:           true,
			TotalMemberCount: len(group.Members),
			MemberMap:        memberMap,
		},
	}
	if group.Description != "" {
		chatInfo.Topic = &group.Description
	}
	return chatInfo
}

// chatToChatInfo converts a direct conversation to a bridgev2.ChatInfo.
func (gm *GroupMeClient) chatToChatInfo(chat *groupme.Chat) *bridgev2.ChatInfo {
	roomType := database.RoomTypeDM
	otherUserID := MakeUserID(chat.OtherUser.ID)

	memberMap := map[networkid.UserID]bridgev2.ChatMember{
		otherUserID: {
			EventSender: bridgev2.EventSender{Sender: otherUserID},
			Membership:  event.MembershipJoin,
		},
		MakeUserID(gm.userID): {
			EventSender: bridgev2.EventSender{IsFromMe: true, Sender: MakeUserID(gm.userID)},
			Membership:  event.MembershipJoin,
		},
	}

	return &bridgev2.ChatInfo{
		Type: &roomType,
		Members: &bridgev2.ChatMemberList{
			IsFull:           true,
			TotalMemberCount: len(memberMap),
			OtherUserID:      otherUserID,
			MemberMap:        memberMap,
		},
	}
}

// makeAvatar builds a lazily fetched avatar from an image URL. An empty URL
// signals avatar removal.
func (gm *GroupMeClient) makeAvatar(avatarURL string) *bridgev2.Avatar {
	if avatarURL == "" {
		return &bridgev2.Avatar{Remove: true}
	}
	return &bridgev2.Avatar{
		ID: networkid.AvatarID(avatarURL),
		Get: func(ctx context.Context) ([]byte, error) {
			return gm.rest.Download(ctx, avatarURL)
		},
	}
}
