// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package groupme

import (
	"encoding/json"
)

// User is the authenticated user's profile as returned by /users/me.
type User struct {
	UserID    string `json:"user_id"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ImageURL  string `json:"image_url"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Member is a single group membership entry.
type Member struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Nickname string   `json:"nickname"`
	Name     string   `json:"name"`
	ImageURL string   `json:"image_url"`
	Muted    bool     `json:"muted"`
	Roles    []string `json:"roles"`
}

// Group is a GroupMe group conversation.
type Group struct {
	ID          string   `json:"id"`
	GroupID     string   `json:"group_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	CreatorID   string   `json:"creator_user_id"`
	Members     []Member `json:"members"`
	UpdatedAt   int64    `json:"updated_at"`
	MessageInfo struct {
		Count                int64  `json:"count"`
		LastMessageID        string `json:"last_message_id"`
		LastMessageCreatedAt int64  `json:"last_message_created_at"`
	} `json:"messages"`
}

// ChatUser is the remote participant of a direct-message conversation.
type ChatUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Chat is a direct-message conversation as returned by /chats.
type Chat struct {
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
	MessagesCount int64    `json:"messages_count"`
	OtherUser     ChatUser `json:"other_user"`
	LastMessage   *Message `json:"last_message"`
}

// Attachment is a message attachment. Type is one of "image", "video",
// "file", "reply", "mentions" or "location"; the other fields are populated
// depending on the type.
type Attachment struct {
	Type        string   `json:"type"`
	URL         string   `json:"url,omitempty"`
	PreviewURL  string   `json:"preview_url,omitempty"`
	FileID      string   `json:"file_id,omitempty"`
	ReplyID     string   `json:"reply_id,omitempty"`
	BaseReplyID string   `json:"base_reply_id,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
	Loci        [][]int  `json:"loci,omitempty"`
}

// Message is a message in either a group or a direct conversation.
type Message struct {
	ID          string       `json:"id"`
	SourceGUID  string       `json:"source_guid"`
	GroupID     string       `json:"group_id,omitempty"`
	ChatID      string       `json:"chat_id,omitempty"`
	RecipientID string       `json:"recipient_id,omitempty"`
	UserID      string       `json:"user_id"`
	SenderID    string       `json:"sender_id,omitempty"`
	SenderType  string       `json:"sender_type,omitempty"`
	Name        string       `json:"name"`
	AvatarURL   string       `json:"avatar_url"`
	Text        string       `json:"text"`
	System      bool         `json:"system"`
	CreatedAt   int64        `json:"created_at"`
	FavoritedBy []string     `json:"favorited_by"`
	Attachments []Attachment `json:"attachments"`
	Event       *SystemEvent `json:"event,omitempty"`
}

// ConversationID returns the id of the conversation the message belongs to,
// regardless of whether it is a group line or a direct message.
func (m *Message) ConversationID() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.ChatID
}

// SystemEvent describes a structured system message (membership and group
// metadata changes) attached to messages sent by the "system" user.
type SystemEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OutgoingMessage is the request body for posting a message.
type OutgoingMessage struct {
	SourceGUID  string       `json:"source_guid"`
	Text        string       `json:"text,omitempty"`
	RecipientID string       `json:"recipient_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FileInfo is the metadata record returned by the file service's fileData
// endpoint.
type FileInfo struct {
	FileData struct {
		FileName string `json:"file_name"`
		FileSize int64  `json:"file_size"`
		MimeType string `json:"mime_type"`
	} `json:"file_data"`
}

// VideoJobResult is the terminal payload of a video transcode job.
type VideoJobResult struct {
	Status       string `json:"status"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// apiEnvelope is the v3 API response wrapper.
type apiEnvelope struct {
	Response json.RawMessage `json:"response"`
	Meta     struct {
		Code   int      `json:"code"`
		Errors []string `json:"errors"`
	} `json:"meta"`
}
