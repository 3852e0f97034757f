// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Matrix-GroupMe bridge using the mautrix
// bridgev2 framework.
//
// GroupMe delivers realtime events over a Bayeux (Faye) push connection with
// three kinds of channels: the personal /user/{id} channel carrying every
// message in every conversation, per-group /group/{id} channels carrying
// likes, typing signals and read receipts, and /direct_message/{pair}
// channels doing the same for direct conversations. Direct conversations
// have no server-side listing push, so newly started DMs are picked up by a
// periodic re-scan of the /chats endpoint.
//
// # Core Types
//
// [GroupMeConnector] implements [bridgev2.NetworkConnector] and manages the
// bridge lifecycle and configuration.
//
// [GroupMeClient] represents one authenticated GroupMe session. It maintains
// the push connection with its channel subscriptions and performs REST calls
// for message sending, conversation sync and backfill.
//
// # Echo Prevention
//
// The push feed delivers the user's own messages back. Every outbound
// message carries a random source_guid which is registered with the
// deduplicator before the REST call goes out; the first matching inbound
// frame is suppressed and the registration consumed. Registrations expire
// after a configurable window so a lost echo cannot suppress a genuine
// later message.
//
// # Sub-packages
//
//   - matrixfmt converts Matrix HTML to GroupMe plain text.
//   - groupmefmt converts GroupMe text with mention loci to Matrix HTML.
package connector
