// Copyright 2024-2026 Chad Ouming

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// GetLoginFlows returns the available login methods for the bridge.
// GroupMe only has token authentication: the access token from the
// developer site or sniffed from the web client.
func (gc *GroupMeConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "Access Token",
			Description: "Log in with a GroupMe access token from https://dev.groupme.com",
			ID:          "token",
		},
	}
}

// CreateLogin starts a new login process for the given flow.
func (gc *GroupMeConnector) CreateLogin(_ context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	if flowID != "token" {
		return nil, fmt.Errorf("unknown login flow: %s", flowID)
	}
	return &TokenLoginProcess{
		connector: gc,
		user:      user,
	}, nil
}

// TokenLoginProcess implements token-based login.
type TokenLoginProcess struct {
	connector *GroupMeConnector
	user      *bridgev2.User
}

var _ bridgev2.LoginProcessUserInput = (*TokenLoginProcess)(nil)

func (t *TokenLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       "fi.mau.groupme.login.token",
		Instructions: "Enter your GroupMe access token",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "token",
					Name: "Access Token",
				},
			},
		},
	}, nil
}

func (t *TokenLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	return t.finishLogin(ctx, input["token"])
}

func (t *TokenLoginProcess) Cancel() {}

func (t *TokenLoginProcess) finishLogin(ctx context.Context, token string) (*bridgev2.LoginStep, error) {
	me, err := validateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	loginID := MakeUserLoginID(me.UserID)

	ul, err := t.user.NewLogin(ctx, &database.UserLogin{
		ID:         loginID,
		RemoteName: me.Name,
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: t.connector.LoadUserLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create login: %w", err)
	}

	meta := ul.Metadata.(*UserLoginMetadata)
	meta.Token = token
	meta.UserID = me.UserID
	if err := ul.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save login: %w", err)
	}

	// Connect after saving.
	client := ul.Client.(*GroupMeClient)
	client.rest = groupme.NewClient(token)
	client.userID = me.UserID
	client.Connect(ctx)

	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       "fi.mau.groupme.login.complete",
		Instructions: fmt.Sprintf("Logged in as %s", me.Name),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: loginID,
			UserLogin:   ul,
		},
	}, nil
}

// validateToken authenticates with the given access token and returns the
// owning user's profile.
func validateToken(ctx context.Context, token string) (*groupme.User, error) {
	me, err := groupme.NewClient(token).Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if me.UserID == "" {
		me.UserID = me.ID
	}
	return me, nil
}
