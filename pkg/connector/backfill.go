// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// Compile-time assertion that GroupMeClient implements BackfillingNetworkAPI.
var _ bridgev2.BackfillingNetworkAPI = (*GroupMeClient)(nil)

// FetchMessages implements bridgev2.BackfillingNetworkAPI. GroupMe pages
// backwards from a message id, so forward backfill is served by fetching the
// newest page and cutting it at the anchor.
func (gm *GroupMeClient) FetchMessages(ctx context.Context, params bridgev2.FetchMessagesParams) (*bridgev2.FetchMessagesResponse, error) {
	conversationID := ParsePortalID(params.Portal.ID)

	maxCount := gm.connector.Config.BackfillMaxCount
	if maxCount <= 0 {
		maxCount = 100
	}
	if params.Count > 0 && params.Count < maxCount {
		maxCount = params.Count
	}

	beforeID := ""
	if !params.Forward {
		if params.Cursor != "" {
			beforeID = string(params.Cursor)
		} else if params.AnchorMessage != nil {
			beforeID = ParseMessageID(params.AnchorMessage.ID)
		}
	}

	var history []*groupme.Message
	var err error
	if IsDMConversation(conversationID) {
		history, err = gm.rest.DirectMessages(ctx, DMOtherUserID(conversationID, gm.userID), beforeID)
	} else {
		history, err = gm.rest.GroupMessages(ctx, conversationID, beforeID, maxCount)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message history: %w", err)
	}

	// The API returns newest first.
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt < history[j].CreatedAt
	})

	if params.Forward && params.AnchorMessage != nil {
		anchorTS := params.AnchorMessage.Timestamp
		filtered := history[:0]
		for _, msg := range history {
			if time.Unix(msg.CreatedAt, 0).After(anchorTS) {
				filtered = append(filtered, msg)
			}
		}
		history = filtered
	}
	if len(history) > maxCount {
		history = history[len(history)-maxCount:]
	}

	messages := make([]*bridgev2.BackfillMessage, 0, len(history))
	for _, msg := range history {
		if msg.UserID == "system" || msg.System {
			continue
		}
		messages = append(messages, &bridgev2.BackfillMessage{
			ConvertedMessage: gm.convertMessage(conversationID, msg),
			Sender: bridgev2.EventSender{
				IsFromMe: msg.UserID == gm.userID,
				Sender:   MakeUserID(msg.UserID),
			},
			ID:        MakeMessageID(msg.ID),
			Timestamp: time.Unix(msg.CreatedAt, 0),
		})
	}

	resp := &bridgev2.FetchMessagesResponse{
		Messages: messages,
		HasMore:  len(history) > 0,
		Forward:  params.Forward,
	}
	if !params.Forward && len(history) > 0 {
		resp.Cursor = networkid.PaginationCursor(history[0].ID)
	}
	return resp, nil
}
