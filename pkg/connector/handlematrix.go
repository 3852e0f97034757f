// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// HandleMatrixMessage handles a message sent from Matrix to GroupMe.
func (gm *GroupMeClient) HandleMatrixMessage(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	if !gm.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	content := msg.Content

	outgoing := &groupme.OutgoingMessage{
		SourceGUID: uuid.NewString(),
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		text := matrixfmtParse(content)
		if content.MsgType == event.MsgEmote {
			text = "/me " + text
		}
		outgoing.Text = text

	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		attachment, err := gm.uploadMatrixMedia(ctx, msg, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to upload media: %w", err)
		}
		outgoing.Attachments = []groupme.Attachment{*attachment}
		if content.Body != "" && content.Body != content.GetFileName() {
			outgoing.Text = content.Body
		}

	default:
		return nil, fmt.Errorf("unsupported message type: %s", content.MsgType)
	}

	if msg.ReplyTo != nil {
		replyID := ParseMessageID(msg.ReplyTo.ID)
		outgoing.Attachments = append(outgoing.Attachments, groupme.Attachment{
			Type:        "reply",
			ReplyID:     replyID,
			BaseReplyID: replyID,
		})
	}

	return gm.sendMessage(ctx, conversationID, outgoing)
}

// sendMessage posts a message over REST. The correlation id is registered
// with the deduplicator before the request goes out, so the push echo is
// recognized no matter how quickly it arrives.
func (gm *GroupMeClient) sendMessage(ctx context.Context, conversationID string, outgoing *groupme.OutgoingMessage) (*bridgev2.MatrixMessageResponse, error) {
	gm.dedup.RegisterOutbound(conversationID, gm.userID, outgoing.SourceGUID)

	var sent *groupme.Message
	var err error
	if IsDMConversation(conversationID) {
		outgoing.RecipientID = DMOtherUserID(conversationID, gm.userID)
		sent, err = gm.rest.PostDirectMessage(ctx, outgoing)
	} else {
		sent, err = gm.rest.PostGroupMessage(ctx, conversationID, outgoing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &bridgev2.MatrixMessageResponse{
		DB: &database.Message{
			ID:       MakeMessageID(sent.ID),
			SenderID: MakeUserID(gm.userID),
		},
	}, nil
}

// uploadMatrixMedia downloads media from Matrix and pushes it through the
// matching GroupMe upload service, waiting for transcode jobs to finish.
func (gm *GroupMeClient) uploadMatrixMedia(ctx context.Context, msg *bridgev2.MatrixMessage, conversationID string) (*groupme.Attachment, error) {
	content := msg.Content

	data, err := msg.Portal.Bridge.Bot.DownloadMedia(ctx, content.URL, content.File)
	if err != nil {
		return nil, fmt.Errorf("failed to download Matrix media: %w", err)
	}

	filename := content.GetFileName()
	if filename == "" {
		filename = "upload"
	}

	jobCtx, cancel := context.WithTimeout(ctx, gm.connector.Config.JobPollTimeout())
	defer cancel()
	pollInterval := gm.connector.Config.JobPollInterval()

	switch content.MsgType {
	case event.MsgImage:
		mimeType := "image/jpeg"
		if content.Info != nil && content.Info.MimeType != "" {
			mimeType = content.Info.MimeType
		}
		imageURL, err := gm.rest.UploadImage(ctx, data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("failed to upload image: %w", err)
		}
		return &groupme.Attachment{Type: "image", URL: imageURL}, nil

	case event.MsgVideo:
		jobID, err := gm.rest.TranscodeVideo(ctx, conversationID, data)
		if err != nil {
			return nil, fmt.Errorf("failed to start video transcode: %w", err)
		}
		var result *groupme.VideoJobResult
		_, err = groupme.AwaitJob(jobCtx, func(ctx context.Context) (string, error) {
			result, err = gm.rest.VideoStatus(ctx, jobID)
			if err != nil {
				return "", err
			}
			return result.Status, nil
		}, pollInterval, "complete")
		if err != nil {
			return nil, fmt.Errorf("video transcode did not finish: %w", err)
		}
		return &groupme.Attachment{Type: "video", URL: result.URL, PreviewURL: result.ThumbnailURL}, nil

	default:
		jobID, err := gm.rest.UploadFile(ctx, conversationID, filename, data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload file: %w", err)
		}
		_, err = groupme.AwaitJob(jobCtx, func(ctx context.Context) (string, error) {
			return gm.rest.FileUploadStatus(ctx, conversationID, jobID)
		}, pollInterval, "completed")
		if err != nil {
			return nil, fmt.Errorf("file upload did not finish: %w", err)
		}
		return &groupme.Attachment{Type: "file", FileID: jobID}, nil
	}
}

// PreHandleMatrixReaction validates a reaction before sending. GroupMe only
// has the like reaction, so everything maps onto the heart.
func (gm *GroupMeClient) PreHandleMatrixReaction(_ context.Context, msg *bridgev2.MatrixReaction) (bridgev2.MatrixReactionPreResponse, error) {
	return bridgev2.MatrixReactionPreResponse{
		SenderID:     MakeUserID(gm.userID),
		EmojiID:      MakeEmojiID(likeEmoji),
		Emoji:        likeEmoji,
		MaxReactions: 1,
	}, nil
}

// HandleMatrixReaction likes a message in GroupMe.
func (gm *GroupMeClient) HandleMatrixReaction(ctx context.Context, msg *bridgev2.MatrixReaction) (*database.Reaction, error) {
	if !gm.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	messageID := ParseMessageID(msg.TargetMessage.ID)
	if err := gm.rest.Like(ctx, conversationID, messageID); err != nil {
		return nil, fmt.Errorf("failed to like message: %w", err)
	}

	return &database.Reaction{
		EmojiID: MakeEmojiID(likeEmoji),
	}, nil
}

// HandleMatrixReactionRemove unlikes a message in GroupMe.
func (gm *GroupMeClient) HandleMatrixReactionRemove(ctx context.Context, msg *bridgev2.MatrixReactionRemove) error {
	if !gm.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	messageID := ParseMessageID(msg.TargetReaction.MessageID)
	if err := gm.rest.Unlike(ctx, conversationID, messageID); err != nil {
		return fmt.Errorf("failed to unlike message: %w", err)
	}
	return nil
}

// HandleMatrixReadReceipt forwards a read receipt to GroupMe. Only direct
// conversations have a read-marker endpoint.
func (gm *GroupMeClient) HandleMatrixReadReceipt(ctx context.Context, msg *bridgev2.MatrixReadReceipt) error {
	if !gm.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	if !IsDMConversation(conversationID) {
		return nil
	}
	if msg.ExactMessage == nil {
		return nil
	}

	err := gm.rest.MarkRead(ctx, conversationID, ParseMessageID(msg.ExactMessage.ID))
	if err != nil {
		return fmt.Errorf("failed to mark conversation as read: %w", err)
	}
	return nil
}

// HandleMatrixTyping starts or stops the typing heartbeat for a portal's
// conversation. GroupMe expects the signal to be re-published every second
// for as long as the user is composing.
func (gm *GroupMeClient) HandleMatrixTyping(_ context.Context, msg *bridgev2.MatrixTyping) error {
	if !gm.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	if msg.IsTyping {
		gm.typing.Start(conversationID)
	} else {
		gm.typing.Stop(conversationID)
	}
	return nil
}
