// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"fmt"
	"os"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

// GroupMeConnector implements bridgev2.NetworkConnector for GroupMe.
type GroupMeConnector struct {
	Bridge *bridgev2.Bridge
	Config Config
}

var _ bridgev2.NetworkConnector = (*GroupMeConnector)(nil)

func (gc *GroupMeConnector) Init(bridge *bridgev2.Bridge) {
	gc.Bridge = bridge
}

func (gc *GroupMeConnector) Start(ctx context.Context) error {
	if err := gc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}
	go gc.autoLogin(ctx)
	return nil
}

// autoLogin checks for GROUPME_AUTO_TOKEN and GROUPME_AUTO_OWNER_MXID env
// vars and performs an automatic login if no existing logins are found.
// This allows the bridge to connect on first boot without manual bot
// interaction.
func (gc *GroupMeConnector) autoLogin(ctx context.Context) {
	token := os.Getenv("GROUPME_AUTO_TOKEN")
	ownerMXID := os.Getenv("GROUPME_AUTO_OWNER_MXID")
	if token == "" || ownerMXID == "" {
		return
	}

	// Wait for the bridge framework to finish loading existing logins.
	time.Sleep(5 * time.Second)

	existingUsers, err := gc.Bridge.DB.UserLogin.GetAllUserIDsWithLogins(ctx)
	if err != nil {
		gc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to check existing logins")
		return
	}
	if len(existingUsers) > 0 {
		gc.Bridge.Log.Info().Int("count", len(existingUsers)).Msg("Existing logins found, skipping auto-login")
		return
	}

	gc.Bridge.Log.Info().Msg("Performing auto-login")

	me, err := validateToken(ctx, token)
	if err != nil {
		gc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to verify token")
		return
	}

	user, err := gc.Bridge.GetUserByMXID(ctx, id.UserID(ownerMXID))
	if err != nil {
		gc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to get bridge user")
		return
	}

	ul, err := user.NewLogin(ctx, &database.UserLogin{
		ID:         MakeUserLoginID(me.UserID),
		RemoteName: fmt.Sprintf("%s (auto)", me.Name),
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: gc.LoadUserLogin,
	})
	if err != nil {
		gc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to create login")
		return
	}

	meta := ul.Metadata.(*UserLoginMetadata)
	meta.Token = token
	meta.UserID = me.UserID
	if err := ul.Save(ctx); err != nil {
		gc.Bridge.Log.Error().Err(err).Msg("Auto-login: failed to save login")
		return
	}

	gmClient := ul.Client.(*GroupMeClient)
	gmClient.Connect(ctx)

	gc.Bridge.Log.Info().Str("name", me.Name).Msg("Auto-login complete")
}

func (gc *GroupMeConnector) LoadUserLogin(_ context.Context, login *bridgev2.UserLogin) error {
	login.Client = NewGroupMeClient(login, gc)
	return nil
}

func (gc *GroupMeConnector) GetName() bridgev2.BridgeName {
	return bridgev2.BridgeName{
		DisplayName:      "GroupMe",
		NetworkURL:       "https://groupme.com",
		NetworkIcon:      "mxc://maunium.net/groupme",
		NetworkID:        "groupme",
		BeeperBridgeType: "groupme",
		DefaultPort:      29322,
	}
}

func (gc *GroupMeConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		UserLogin: func() any {
			return &UserLoginMetadata{}
		},
	}
}

func (gc *GroupMeConnector) GetCapabilities() *bridgev2.NetworkGeneralCapabilities {
	return &bridgev2.NetworkGeneralCapabilities{
		DisappearingMessages: false,
		AggressiveUpdateInfo: false,
	}
}

func (gc *GroupMeConnector) GetBridgeInfoVersion() (info, capabilities int) {
	return 1, 1
}

// UserLoginMetadata stores GroupMe-specific login data.
type UserLoginMetadata struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// MakeUserLoginID creates a UserLoginID from a GroupMe user ID.
func MakeUserLoginID(userID string) networkid.UserLoginID {
	return networkid.UserLoginID(userID)
}

// ParseUserLoginID extracts the GroupMe user ID from a UserLoginID.
func ParseUserLoginID(loginID networkid.UserLoginID) string {
	return string(loginID)
}
