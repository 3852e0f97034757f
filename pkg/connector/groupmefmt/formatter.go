// Copyright 2024-2026 Chad Ouming

// Package groupmefmt converts GroupMe message text to Matrix content.
// GroupMe text is plain, but mention attachments mark spans of the text
// that refer to users; those spans become highlighted HTML.
package groupmefmt

import (
	"html"
	"sort"
	"strings"

	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting a GroupMe message to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// Mention is one mentioned user: the id and the [start, length] locus of
// the mention inside the message text.
type Mention struct {
	UserID string
	Start  int
	Length int
}

// Parse converts GroupMe message text and its mention spans to Matrix event
// content. Without mentions the result is plain text; with mentions the
// mentioned spans are emphasized in an HTML body.
func Parse(text string, mentions []Mention) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}
	if len(mentions) == 0 {
		return &ParsedMessage{Body: text}
	}

	// Loci index runes, not bytes.
	runes := []rune(text)
	spans := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.Start < 0 || m.Length <= 0 || m.Start+m.Length > len(runes) {
			continue
		}
		spans = append(spans, m)
	}
	if len(spans) == 0 {
		return &ParsedMessage{Body: text}
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	var sb strings.Builder
	cursor := 0
	for _, span := range spans {
		if span.Start < cursor {
			continue
		}
		sb.WriteString(html.EscapeString(string(runes[cursor:span.Start])))
		sb.WriteString("<strong>")
		sb.WriteString(html.EscapeString(string(runes[span.Start : span.Start+span.Length])))
		sb.WriteString("</strong>")
		cursor = span.Start + span.Length
	}
	sb.WriteString(html.EscapeString(string(runes[cursor:])))

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: sb.String(),
	}
}
