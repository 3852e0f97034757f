// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/event"

	"github.com/chadouming/mautrix-groupme/pkg/connector/groupmefmt"
	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// likeEmoji is the only native GroupMe reaction.
const likeEmoji = "❤️"

var (
	sharedDocSuffixRe = regexp.MustCompile(` - Shared a document: .+$`)
	videoURLSuffixRe  = regexp.MustCompile(`\s*https://v\.groupme\.com/\S+$`)
)

// pushEnvelope is the common shape of frames on both the personal channel
// and the per-conversation channels.
type pushEnvelope struct {
	Type    string          `json:"type"`
	Subject json.RawMessage `json:"subject"`
	Alert   string          `json:"alert"`
	UserID  string          `json:"user_id"`
}

// handleUserFrame processes a frame delivered on the personal /user channel:
// new messages in every conversation, DM likes and group joins.
func (gm *GroupMeClient) handleUserFrame(data json.RawMessage) {
	var envelope pushEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		gm.log.Warn().Err(err).Msg("Failed to decode personal-channel frame")
		return
	}

	switch envelope.Type {
	case "ping":
	case "line.create", "direct_message.create":
		gm.handleIncomingMessage(envelope.Subject)
	case "like.create":
		gm.handleDMLike(envelope.Subject)
	case "membership.create":
		gm.handleGroupJoined(envelope.Subject)
	default:
		gm.log.Trace().Str("frame_type", envelope.Type).Msg("Unhandled personal-channel frame type")
	}
}

func (gm *GroupMeClient) handleIncomingMessage(subject json.RawMessage) {
	var msg groupme.Message
	if err := json.Unmarshal(subject, &msg); err != nil {
		gm.log.Warn().Err(err).Msg("Failed to decode message frame")
		return
	}

	conversationID := gm.messageConversationID(&msg)

	// Suppress the echo of a message this session just sent over REST. The
	// push feed delivers everything, own messages included.
	if msg.SourceGUID != "" && gm.dedup.ShouldSuppress(conversationID, msg.UserID, msg.SourceGUID) {
		gm.log.Debug().
			Str("conversation_id", conversationID).
			Str("source_guid", msg.SourceGUID).
			Msg("Suppressing echo of own message")
		return
	}

	if msg.UserID == "system" {
		gm.handleSystemMessage(conversationID, &msg)
		return
	}

	gm.log.Debug().
		Str("message_id", msg.ID).
		Str("conversation_id", conversationID).
		Str("user_id", msg.UserID).
		Msg("Received new message")

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.Message[*groupme.Message]{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventMessage,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", msg.ID).Str("conversation_id", conversationID)
			},
			PortalKey: makePortalKey(conversationID),
			Sender: bridgev2.EventSender{
				IsFromMe: msg.UserID == gm.userID,
				Sender:   MakeUserID(msg.UserID),
			},
			Timestamp:    time.Unix(msg.CreatedAt, 0),
			CreatePortal: true,
		},
		ID:   MakeMessageID(msg.ID),
		Data: &msg,
		ConvertMessageFunc: func(_ context.Context, _ *bridgev2.Portal, _ bridgev2.MatrixAPI, data *groupme.Message) (*bridgev2.ConvertedMessage, error) {
			return gm.convertMessage(conversationID, data), nil
		},
	})
}

// messageConversationID maps a message to its portal conversation: the
// group id for lines, the canonical sorted pair for direct messages.
func (gm *GroupMeClient) messageConversationID(msg *groupme.Message) string {
	if msg.GroupID != "" {
		return msg.GroupID
	}
	// The chat_id on direct messages already is the sorted pair.
	if msg.ChatID != "" {
		return msg.ChatID
	}
	return MakeDMConversationID(gm.userID, msg.UserID)
}

func (gm *GroupMeClient) handleDMLike(subject json.RawMessage) {
	var like struct {
		UserID        string           `json:"user_id"`
		Line          *groupme.Message `json:"line"`
		DirectMessage *groupme.Message `json:"direct_message"`
	}
	if err := json.Unmarshal(subject, &like); err != nil {
		gm.log.Warn().Err(err).Msg("Failed to decode like frame")
		return
	}
	// Group likes arrive as "favorite" events on the group channel, which
	// is the more reliable source; only DM likes are handled here.
	if like.Line != nil || like.DirectMessage == nil {
		return
	}
	if like.UserID == gm.userID {
		return
	}

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.Reaction{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventReaction,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", like.DirectMessage.ID)
			},
			PortalKey: makePortalKey(like.DirectMessage.ChatID),
			Sender: bridgev2.EventSender{
				Sender: MakeUserID(like.UserID),
			},
		},
		TargetMessage: MakeMessageID(like.DirectMessage.ID),
		EmojiID:       MakeEmojiID(likeEmoji),
		Emoji:         likeEmoji,
	})
}

// handleGroupJoined reacts to the session being added to a new group:
// create the portal and start listening to the group's event channel.
func (gm *GroupMeClient) handleGroupJoined(subject json.RawMessage) {
	var joined struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(subject, &joined); err != nil || joined.ID == "" {
		gm.log.Warn().Err(err).Msg("Failed to decode membership frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	group, err := gm.rest.Group(ctx, joined.ID)
	if err != nil {
		gm.log.Error().Err(err).Str("group_id", joined.ID).Msg("Failed to fetch joined group")
		return
	}
	gm.queueConversationResync(group.ID, gm.groupToChatInfo(group), group.MessageInfo.LastMessageCreatedAt)

	if err := gm.ListenGroup(ctx, joined.ID); err != nil {
		gm.log.Error().Err(err).Str("group_id", joined.ID).Msg("Failed to subscribe to joined group")
	}
}

// handleSystemMessage translates GroupMe system messages (membership and
// group metadata changes) into chat-info updates.
func (gm *GroupMeClient) handleSystemMessage(conversationID string, msg *groupme.Message) {
	if msg.Event == nil {
		gm.log.Debug().Str("text", msg.Text).Msg("System message without event payload")
		return
	}

	meta := simplevent.EventMeta{
		Type:      bridgev2.RemoteEventChatInfoChange,
		PortalKey: makePortalKey(conversationID),
		LogContext: func(c zerolog.Context) zerolog.Context {
			return c.Str("conversation_id", conversationID).Str("system_event", msg.Event.Type)
		},
		Timestamp: time.Unix(msg.CreatedAt, 0),
	}

	switch msg.Event.Type {
	case "membership.announce.added":
		var data struct {
			AddedUsers []struct {
				ID       json.Number `json:"id"`
				Nickname string      `json:"nickname"`
			} `json:"added_users"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode member-added event")
			return
		}
		memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(data.AddedUsers))
		for _, user := range data.AddedUsers {
			uid := MakeUserID(user.ID.String())
			memberMap[uid] = bridgev2.ChatMember{
				EventSender: bridgev2.EventSender{Sender: uid},
				Membership:  event.MembershipJoin,
			}
		}
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			MemberChanges: &bridgev2.ChatMemberList{MemberMap: memberMap},
		})

	case "membership.notifications.exited":
		var data struct {
			RemovedUser struct {
				ID json.Number `json:"id"`
			} `json:"removed_user"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode member-removed event")
			return
		}
		uid := MakeUserID(data.RemovedUser.ID.String())
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			MemberChanges: &bridgev2.ChatMemberList{
				MemberMap: map[networkid.UserID]bridgev2.ChatMember{
					uid: {
						EventSender: bridgev2.EventSender{Sender: uid},
						Membership:  event.MembershipLeave,
					},
				},
			},
		})

	case "membership.nickname_changed":
		var data struct {
			Name string `json:"name"`
			User struct {
				ID json.Number `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode nickname-change event")
			return
		}
		uid := MakeUserID(data.User.ID.String())
		displayname := gm.connector.Config.FormatDisplayname(DisplaynameParams{
			Name:     data.Name,
			Nickname: data.Name,
			UserID:   data.User.ID.String(),
		})
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			MemberChanges: &bridgev2.ChatMemberList{
				MemberMap: map[networkid.UserID]bridgev2.ChatMember{
					uid: {
						EventSender: bridgev2.EventSender{Sender: uid},
						Membership:  event.MembershipJoin,
						UserInfo:    &bridgev2.UserInfo{Name: &displayname},
					},
				},
			},
		})

	case "membership.avatar_changed":
		var data struct {
			AvatarURL string `json:"avatar_url"`
			User      struct {
				ID json.Number `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode member-avatar-change event")
			return
		}
		uid := MakeUserID(data.User.ID.String())
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			MemberChanges: &bridgev2.ChatMemberList{
				MemberMap: map[networkid.UserID]bridgev2.ChatMember{
					uid: {
						EventSender: bridgev2.EventSender{Sender: uid},
						Membership:  event.MembershipJoin,
						UserInfo:    &bridgev2.UserInfo{Avatar: gm.makeAvatar(data.AvatarURL)},
					},
				},
			},
		})

	case "group.name_change":
		var data struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode name-change event")
			return
		}
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			ChatInfo: &bridgev2.ChatInfo{Name: &data.Name},
		})

	case "group.topic_change":
		var data struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode topic-change event")
			return
		}
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			ChatInfo: &bridgev2.ChatInfo{Topic: &data.Topic},
		})

	case "group.avatar_change":
		var data struct {
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			gm.log.Warn().Err(err).Msg("Failed to decode avatar-change event")
			return
		}
		gm.queueChatInfoChange(meta, &bridgev2.ChatInfoChange{
			ChatInfo: &bridgev2.ChatInfo{Avatar: gm.makeAvatar(data.AvatarURL)},
		})

	default:
		gm.log.Debug().
			Str("system_event", msg.Event.Type).
			Str("text", msg.Text).
			Msg("Unhandled system event")
	}
}

func (gm *GroupMeClient) queueChatInfoChange(meta simplevent.EventMeta, change *bridgev2.ChatInfoChange) {
	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.ChatInfoChange{
		EventMeta:      meta,
		ChatInfoChange: change,
	})
}

// handleConversationFrame processes a frame delivered on a group or
// direct-message channel: favorites, typing signals and read receipts.
func (gm *GroupMeClient) handleConversationFrame(conversationID string, data json.RawMessage) {
	var envelope pushEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		gm.log.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("Failed to decode conversation-channel frame")
		return
	}

	switch envelope.Type {
	case "favorite":
		gm.handleFavorite(conversationID, envelope.Subject)
	case "typing":
		gm.handleRemoteTyping(conversationID, envelope.UserID)
	case "read_receipt.create":
		gm.handleReadReceipt(envelope.Subject)
	default:
		gm.log.Trace().
			Str("frame_type", envelope.Type).
			Str("conversation_id", conversationID).
			Msg("Unhandled conversation-channel frame type")
	}
}

func (gm *GroupMeClient) handleFavorite(conversationID string, subject json.RawMessage) {
	var favorite struct {
		UserID string           `json:"user_id"`
		Line   *groupme.Message `json:"line"`
	}
	if err := json.Unmarshal(subject, &favorite); err != nil || favorite.Line == nil {
		gm.log.Warn().Err(err).Msg("Failed to decode favorite frame")
		return
	}
	if favorite.UserID == gm.userID {
		return
	}

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.Reaction{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventReaction,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", favorite.Line.ID)
			},
			PortalKey: makePortalKey(conversationID),
			Sender: bridgev2.EventSender{
				Sender: MakeUserID(favorite.UserID),
			},
		},
		TargetMessage: MakeMessageID(favorite.Line.ID),
		EmojiID:       MakeEmojiID(likeEmoji),
		Emoji:         likeEmoji,
	})
}

func (gm *GroupMeClient) handleRemoteTyping(conversationID, userID string) {
	if userID == "" || userID == gm.userID {
		return
	}

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.Typing{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventTyping,
			PortalKey: makePortalKey(conversationID),
			Sender: bridgev2.EventSender{
				Sender: MakeUserID(userID),
			},
		},
		// The remote re-asserts every second while composing; let the
		// signal lapse shortly after the re-asserts stop.
		Timeout: 5 * time.Second,
	})
}

func (gm *GroupMeClient) handleReadReceipt(subject json.RawMessage) {
	var receipt struct {
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(subject, &receipt); err != nil || receipt.MessageID == "" {
		gm.log.Warn().Err(err).Msg("Failed to decode read-receipt frame")
		return
	}
	if receipt.UserID == gm.userID {
		return
	}

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.Receipt{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventReadReceipt,
			PortalKey: makePortalKey(receipt.ChatID),
			Sender: bridgev2.EventSender{
				Sender: MakeUserID(receipt.UserID),
			},
		},
		LastTarget: MakeMessageID(receipt.MessageID),
	})
}

// convertMessage converts a GroupMe message to a bridgev2.ConvertedMessage.
func (gm *GroupMeClient) convertMessage(conversationID string, msg *groupme.Message) *bridgev2.ConvertedMessage {
	var parts []*bridgev2.ConvertedMessagePart
	var replyID string
	var mentions []groupmefmt.Mention
	hasFile := false
	hasVideo := false

	partIndex := 0
	for _, attachment := range msg.Attachments {
		switch attachment.Type {
		case "image":
			partIndex++
			parts = append(parts, &bridgev2.ConvertedMessagePart{
				ID:   MakeMessagePartID(partIndex),
				Type: event.EventMessage,
				Content: &event.MessageEventContent{
					MsgType: event.MsgImage,
					Body:    "image",
				},
				Extra: map[string]any{
					"com.groupme.image_url": attachment.URL,
				},
			})
		case "video":
			hasVideo = true
			partIndex++
			parts = append(parts, &bridgev2.ConvertedMessagePart{
				ID:   MakeMessagePartID(partIndex),
				Type: event.EventMessage,
				Content: &event.MessageEventContent{
					MsgType: event.MsgVideo,
					Body:    "video",
				},
				Extra: map[string]any{
					"com.groupme.video_url":   attachment.URL,
					"com.groupme.preview_url": attachment.PreviewURL,
				},
			})
		case "file":
			hasFile = true
			partIndex++
			if part := gm.convertFileAttachment(conversationID, attachment.FileID, partIndex); part != nil {
				parts = append(parts, part)
			}
		case "reply":
			replyID = attachment.ReplyID
		case "mentions":
			for i, userID := range attachment.UserIDs {
				if i >= len(attachment.Loci) || len(attachment.Loci[i]) != 2 {
					continue
				}
				mentions = append(mentions, groupmefmt.Mention{
					UserID: userID,
					Start:  attachment.Loci[i][0],
					Length: attachment.Loci[i][1],
				})
			}
		}
	}

	body := msg.Text
	// The service pads attachment messages with boilerplate text that would
	// read as noise next to the actual attachment part.
	if hasFile {
		if strings.HasPrefix(body, "Shared a document: ") {
			body = ""
		} else {
			body = sharedDocSuffixRe.ReplaceAllString(body, "")
		}
	}
	if hasVideo {
		if strings.HasPrefix(body, "https://v.groupme.com/") {
			body = ""
		} else {
			body = videoURLSuffixRe.ReplaceAllString(body, "")
		}
	}

	if body != "" {
		parsed := groupmefmtParse(body, mentions)
		parts = append([]*bridgev2.ConvertedMessagePart{{
			ID:   MakeMessagePartID(0),
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType:       event.MsgText,
				Body:          parsed.Body,
				Format:        parsed.Format,
				FormattedBody: parsed.FormattedBody,
			},
		}}, parts...)
	}

	converted := &bridgev2.ConvertedMessage{Parts: parts}
	if replyID != "" {
		converted.ReplyTo = &networkid.MessageOptionalPartID{MessageID: MakeMessageID(replyID)}
	}
	return converted
}

// convertFileAttachment fetches file metadata and builds a file part.
func (gm *GroupMeClient) convertFileAttachment(conversationID, fileID string, partIndex int) *bridgev2.ConvertedMessagePart {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := "file"
	var size int64
	var mimeType string
	infos, err := gm.rest.FileData(ctx, conversationID, []string{fileID})
	if err != nil || len(infos) == 0 {
		gm.log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to get file metadata")
	} else {
		name = infos[0].FileData.FileName
		size = infos[0].FileData.FileSize
		mimeType = infos[0].FileData.MimeType
	}

	return &bridgev2.ConvertedMessagePart{
		ID:   MakeMessagePartID(partIndex),
		Type: event.EventMessage,
		Content: &event.MessageEventContent{
			MsgType: event.MsgFile,
			Body:    name,
			Info: &event.FileInfo{
				MimeType: mimeType,
				Size:     int(size),
			},
		},
		Extra: map[string]any{
			"com.groupme.file_id": fileID,
		},
	}
}
