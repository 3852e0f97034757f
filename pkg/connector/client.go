// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/bridgev2/status"
	"maunium.net/go/mautrix/event"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// remoteEventSender is an interface for queuing remote events. This allows
// tests to inject a mock instead of requiring a full bridgev2.Bridge.
type remoteEventSender interface {
	QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent)
}

// bridgeEventSender is the production implementation that delegates to the bridge.
type bridgeEventSender struct {
	bridge *bridgev2.Bridge
}

func (b *bridgeEventSender) QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	b.bridge.QueueRemoteEvent(login, evt)
}

// pushTransport is the slice of the Faye client the connector uses. Tests
// substitute a fake; production uses *groupme.FayeClient.
type pushTransport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channel string, handler groupme.PushHandler) error
	Publish(ctx context.Context, channel string, data any) error
	Disconnect()
}

var _ pushTransport = (*groupme.FayeClient)(nil)

// GroupMeClient represents a single authenticated GroupMe user connection:
// the REST client, the push connection with its subscription set, the echo
// deduplicator and the typing heartbeats.
type GroupMeClient struct {
	connector   *GroupMeConnector
	userLogin   *bridgev2.UserLogin
	eventSender remoteEventSender

	rest   *groupme.Client
	push   pushTransport
	userID string

	dedup  *messageDeduplicator
	typing *typingHeartbeats

	subscribedMu sync.Mutex
	subscribed   map[string]struct{}

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var (
	_ bridgev2.NetworkAPI                    = (*GroupMeClient)(nil)
	_ bridgev2.ReactionHandlingNetworkAPI    = (*GroupMeClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*GroupMeClient)(nil)
	_ bridgev2.TypingHandlingNetworkAPI      = (*GroupMeClient)(nil)
)

// NewGroupMeClient creates a new client from an existing user login.
func NewGroupMeClient(login *bridgev2.UserLogin, connector *GroupMeConnector) *GroupMeClient {
	log := login.Log.With().Str("component", "gm_client").Logger()
	gm := &GroupMeClient{
		connector:   connector,
		userLogin:   login,
		eventSender: &bridgeEventSender{bridge: connector.Bridge},
		dedup:       newMessageDeduplicator(connector.Config.DedupWindow()),
		subscribed:  make(map[string]struct{}),
		stopChan:    make(chan struct{}),
		log:         log,
	}
	gm.typing = newTypingHeartbeats(connector.Config.TypingInterval(), gm.publishTyping)
	meta, ok := login.Metadata.(*UserLoginMetadata)
	if !ok || meta == nil {
		return gm
	}
	gm.userID = meta.UserID
	if meta.Token != "" {
		gm.rest = groupme.NewClient(meta.Token)
	}
	return gm
}

// Connect implements bridgev2.NetworkAPI. It does not return an error;
// connection errors are reported via BridgeState. A failed connect leaves
// the client intact so a later retry or Disconnect works.
func (gm *GroupMeClient) Connect(ctx context.Context) {
	if gm.rest == nil {
		gm.log.Warn().Msg("Client not initialized, login first")
		gm.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "gm-not-logged-in",
			Message:    "Not logged in to GroupMe",
		})
		return
	}

	me, err := gm.rest.Me(ctx)
	if err != nil {
		gm.log.Error().Err(err).Msg("Failed to verify GroupMe token")
		gm.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "gm-token-invalid",
			Message:    "GroupMe access token is invalid",
		})
		return
	}
	gm.userID = me.UserID
	gm.log.Info().Str("user_id", me.UserID).Str("name", me.Name).Msg("Authenticated")

	if gm.push == nil {
		faye := groupme.NewFayeClient(groupme.DefaultPushURL, gm.log)
		faye.AddExtension(&groupme.TokenExtension{Token: gm.rest.Token})
		gm.push = faye
	}
	if err := gm.push.Connect(ctx); err != nil {
		gm.log.Error().Err(err).Msg("Push connection failed")
		gm.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "gm-push-failed",
			Message:    "Push connection failed",
		})
		return
	}

	if err := gm.startSubscriptions(ctx); err != nil {
		gm.log.Error().Err(err).Msg("Failed to establish subscriptions")
		gm.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateTransientDisconnect,
			Error:      "gm-subscribe-failed",
			Message:    "Failed to subscribe to push channels",
		})
		return
	}

	go gm.dmDiscoveryLoop()

	gm.userLogin.BridgeState.Send(status.BridgeState{
		StateEvent: status.StateConnected,
	})

	// Sync existing conversations to create portal rooms in Matrix.
	go gm.syncConversations(ctx)
}

// startSubscriptions establishes the initial subscription set: the personal
// channel, one channel per group and one per known direct conversation. The
// three branches run in parallel; a failure in one does not cancel the
// others and each is logged on its own. Only a personal-channel failure is
// fatal, since without it no message events arrive at all.
func (gm *GroupMeClient) startSubscriptions(ctx context.Context) error {
	var wg sync.WaitGroup
	var personalErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		personalErr = gm.subscribePersonal(ctx)
		if personalErr != nil {
			gm.log.Error().Err(personalErr).Msg("Failed to subscribe to personal channel")
		}
	}()
	go func() {
		defer wg.Done()
		groups, err := gm.rest.Groups(ctx, false)
		if err != nil {
			gm.log.Error().Err(err).Msg("Failed to list groups for subscription")
			return
		}
		for _, group := range groups {
			if err := gm.ListenGroup(ctx, group.ID); err != nil {
				gm.log.Error().Err(err).Str("group_id", group.ID).Msg("Failed to subscribe to group channel")
			}
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := gm.refreshDirectChannels(ctx); err != nil {
			gm.log.Error().Err(err).Msg("Initial direct-conversation discovery failed")
		}
	}()
	wg.Wait()

	return personalErr
}

func (gm *GroupMeClient) subscribePersonal(ctx context.Context) error {
	channel := UserChannel(gm.userID)
	if !gm.markSubscribed(channel) {
		return nil
	}
	err := gm.push.Subscribe(ctx, channel, gm.handleUserFrame)
	if err != nil {
		gm.unmarkSubscribed(channel)
	}
	return err
}

// ListenGroup idempotently subscribes to a single group's event channel.
// Called for every known group at connect time and again when the session
// learns mid-session that it joined a new group.
func (gm *GroupMeClient) ListenGroup(ctx context.Context, groupID string) error {
	channel := GroupChannel(groupID)
	if !gm.markSubscribed(channel) {
		return nil
	}
	err := gm.push.Subscribe(ctx, channel, func(data json.RawMessage) {
		gm.handleConversationFrame(groupID, data)
	})
	if err != nil {
		gm.unmarkSubscribed(channel)
	}
	return err
}

// refreshDirectChannels lists direct conversations and subscribes to the
// channel of every one not yet subscribed. GroupMe provides no push event
// when a new DM conversation appears, so this runs at connect time and then
// on every discovery tick. Returns how many new subscriptions were made.
// A refresh whose chat listing outlives Disconnect makes no subscriptions.
func (gm *GroupMeClient) refreshDirectChannels(ctx context.Context) (int, error) {
	chats, err := gm.rest.Chats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list direct conversations: %w", err)
	}
	select {
	case <-gm.stopChan:
		return 0, nil
	default:
	}

	added := 0
	for _, chat := range chats {
		conversationID := MakeDMConversationID(gm.userID, chat.OtherUser.ID)
		channel := DMChannel(conversationID)
		if !gm.markSubscribed(channel) {
			continue
		}
		err := gm.push.Subscribe(ctx, channel, func(data json.RawMessage) {
			gm.handleConversationFrame(conversationID, data)
		})
		if err != nil {
			gm.unmarkSubscribed(channel)
			gm.log.Error().Err(err).Str("conversation_id", conversationID).
				Msg("Failed to subscribe to direct-message channel")
			continue
		}
		added++
	}
	return added, nil
}

// markSubscribed reserves a channel in the subscribed set. Returns false if
// the channel was already held, which makes the check-and-set the
// idempotency boundary between the initial subscription pass and a
// fast-following discovery refresh.
func (gm *GroupMeClient) markSubscribed(channel string) bool {
	gm.subscribedMu.Lock()
	defer gm.subscribedMu.Unlock()
	if _, ok := gm.subscribed[channel]; ok {
		return false
	}
	gm.subscribed[channel] = struct{}{}
	return true
}

func (gm *GroupMeClient) unmarkSubscribed(channel string) {
	gm.subscribedMu.Lock()
	defer gm.subscribedMu.Unlock()
	delete(gm.subscribed, channel)
}

func (gm *GroupMeClient) isSubscribed(channel string) bool {
	gm.subscribedMu.Lock()
	defer gm.subscribedMu.Unlock()
	_, ok := gm.subscribed[channel]
	return ok
}

// dmDiscoveryLoop re-runs direct-conversation discovery on a fixed interval
// until the session stops. Failures are logged and retried on the next tick.
func (gm *GroupMeClient) dmDiscoveryLoop() {
	interval := gm.connector.Config.DMRefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gm.log.Debug().Dur("interval", interval).Msg("Starting direct-conversation discovery loop")
	for {
		select {
		case <-gm.stopChan:
			gm.log.Debug().Msg("Discovery loop stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			added, err := gm.refreshDirectChannels(ctx)
			cancel()
			if err != nil {
				gm.log.Warn().Err(err).Msg("Direct-conversation discovery failed, retrying next tick")
			} else if added > 0 {
				gm.log.Info().Int("added", added).Msg("Subscribed to new direct conversations")
			}
		}
	}
}

// publishTyping sends one typing signal for a conversation. Used as the
// typing heartbeat's publish callback.
func (gm *GroupMeClient) publishTyping(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := gm.push.Publish(ctx, ConversationChannel(conversationID), map[string]any{
		"type":    "typing",
		"user_id": gm.userID,
		"started": time.Now().UnixMilli(),
	})
	if err != nil {
		gm.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to send typing signal")
	}
}

// syncConversations fetches all groups and direct conversations and queues
// ChatResync events so the bridge creates portal rooms in Matrix.
func (gm *GroupMeClient) syncConversations(ctx context.Context) {
	groups, err := gm.rest.Groups(ctx, true)
	if err != nil {
		gm.log.Error().Err(err).Msg("Failed to fetch groups for sync")
	} else {
		for _, group := range groups {
			gm.queueConversationResync(group.ID, gm.groupToChatInfo(group), group.MessageInfo.LastMessageCreatedAt)
		}
	}

	chats, err := gm.rest.Chats(ctx)
	if err != nil {
		gm.log.Error().Err(err).Msg("Failed to fetch direct conversations for sync")
	} else {
		for _, chat := range chats {
			conversationID := MakeDMConversationID(gm.userID, chat.OtherUser.ID)
			lastMessageAt := int64(0)
			if chat.LastMessage != nil {
				lastMessageAt = chat.LastMessage.CreatedAt
			}
			gm.queueConversationResync(conversationID, gm.chatToChatInfo(chat), lastMessageAt)
		}
	}

	gm.log.Info().Msg("Conversation sync complete")
}

func (gm *GroupMeClient) queueConversationResync(conversationID string, chatInfo *bridgev2.ChatInfo, lastMessageAt int64) {
	var checkBackfill func(ctx context.Context, latestMessage *database.Message) (bool, error)
	var latestMessageTS time.Time
	if gm.connector.Config.BackfillEnabled && lastMessageAt > 0 {
		latestMessageTS = time.Unix(lastMessageAt, 0)
		checkBackfill = func(_ context.Context, latestMessage *database.Message) (bool, error) {
			if latestMessage == nil {
				return true, nil
			}
			return latestMessage.Timestamp.Before(time.Unix(lastMessageAt, 0)), nil
		}
	}

	gm.eventSender.QueueRemoteEvent(gm.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: makePortalKey(conversationID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("conversation_id", conversationID)
			},
			CreatePortal: true,
		},
		ChatInfo:               chatInfo,
		LatestMessageTS:        latestMessageTS,
		CheckNeedsBackfillFunc: checkBackfill,
	})
}

// Disconnect stops the discovery loop, cancels every typing heartbeat and
// closes the push connection. Safe to call multiple times and on a client
// whose Connect never ran or failed partway. The push field stays set: a
// discovery refresh or heartbeat publish still in flight may touch it after
// this returns, and the transport's own Disconnect is idempotent.
func (gm *GroupMeClient) Disconnect() {
	gm.stopOnce.Do(func() {
		close(gm.stopChan)
	})
	gm.typing.StopAll()
	if gm.push != nil {
		gm.push.Disconnect()
	}
}

// IsLoggedIn reports whether the client holds an access token.
func (gm *GroupMeClient) IsLoggedIn() bool {
	return gm.rest != nil && gm.rest.Token != ""
}

// LogoutRemote tears down the connection. GroupMe access tokens are
// long-lived and cannot be revoked through the API, so this only stops the
// session locally.
func (gm *GroupMeClient) LogoutRemote(_ context.Context) {
	gm.Disconnect()
}

// IsThisUser reports whether the given network user ID matches this client's GroupMe user.
func (gm *GroupMeClient) IsThisUser(_ context.Context, userID networkid.UserID) bool {
	return string(userID) == gm.userID
}

func (gm *GroupMeClient) GetCapabilities(_ context.Context, _ *bridgev2.Portal) *event.RoomFeatures {
	return &event.RoomFeatures{
		// GroupMe messages are plain text; formatting is flattened on send.
		Formatting: event.FormattingFeatureMap{},
		File: event.FileFeatureMap{
			event.MsgImage: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/*": event.CapLevelFullySupported,
				},
				MaxSize: 50 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.MsgVideo: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"video/*": event.CapLevelFullySupported,
				},
				MaxSize: 100 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
			event.MsgFile: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"*/*": event.CapLevelFullySupported,
				},
				MaxSize: 50 * 1024 * 1024,
				Caption: event.CapLevelFullySupported,
			},
		},
		MaxTextLength:       1000,
		Reply:               event.CapLevelFullySupported,
		Edit:                event.CapLevelRejected,
		Delete:              event.CapLevelRejected,
		Reaction:            event.CapLevelFullySupported,
		ReadReceipts:        true,
		TypingNotifications: true,
	}
}
