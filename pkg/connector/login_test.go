// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"testing"

	"maunium.net/go/mautrix/bridgev2"
)

// TestTokenLoginProcess_StartAsksForToken verifies the first login step
// requests the access token as a password field.
func TestTokenLoginProcess_StartAsksForToken(t *testing.T) {
	t.Parallel()
	gc := &GroupMeConnector{}
	process, err := gc.CreateLogin(context.Background(), nil, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step, err := process.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Type != bridgev2.LoginStepTypeUserInput {
		t.Fatalf("unexpected step type %q", step.Type)
	}
	if step.UserInputParams == nil || len(step.UserInputParams.Fields) != 1 {
		t.Fatalf("expected a single input field, got %+v", step.UserInputParams)
	}
	field := step.UserInputParams.Fields[0]
	if field.ID != "token" {
		t.Fatalf("unexpected field id %q", field.ID)
	}
	if field.Type != bridgev2.LoginInputFieldTypePassword {
		t.Fatalf("expected a password field, got %q", field.Type)
	}
}

// TestTokenLoginProcess_CancelIsSafe verifies Cancel can be called before
// any input was submitted.
func TestTokenLoginProcess_CancelIsSafe(t *testing.T) {
	t.Parallel()
	gc := &GroupMeConnector{}
	process, err := gc.CreateLogin(context.Background(), nil, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	process.Cancel()
}
