// Copyright 2024-2026 Chad Ouming

package connector

import (
	"maunium.net/go/mautrix/event"

	"github.com/chadouming/mautrix-groupme/pkg/connector/groupmefmt"
	"github.com/chadouming/mautrix-groupme/pkg/connector/matrixfmt"
)

// groupmefmtParse converts GroupMe text and mention loci to Matrix HTML
// message content.
func groupmefmtParse(text string, mentions []groupmefmt.Mention) *groupmefmt.ParsedMessage {
	return groupmefmt.Parse(text, mentions)
}

// matrixfmtParse converts Matrix message content to GroupMe plain text.
func matrixfmtParse(content *event.MessageEventContent) string {
	return matrixfmt.Parse(content)
}
