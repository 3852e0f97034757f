// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-groupme is a Matrix-GroupMe puppeting bridge built on the
// mautrix bridgev2 framework. It relays messages, likes, typing signals and
// read receipts between the two platforms over GroupMe's REST API and
// Bayeux push service.
package main

import (
	"maunium.net/go/mautrix/bridgev2/matrix/mxmain"

	"github.com/chadouming/mautrix-groupme/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var m = mxmain.BridgeMain{
	Name:        "mautrix-groupme",
	URL:         "https://github.com/chadouming/mautrix-groupme",
	Description: "A Matrix-GroupMe puppeting bridge",
	Version:     "0.1.0",

	Connector: &connector.GroupMeConnector{},
}

func main() {
	m.Run()
}
