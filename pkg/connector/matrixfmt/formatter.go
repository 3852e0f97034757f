// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt flattens Matrix message content to GroupMe plain text.
// GroupMe has no rich text, so HTML structure is reduced to readable text:
// links keep their targets, lists keep their bullets, everything else loses
// its markup.
package matrixfmt

import (
	"html"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	preRe        = regexp.MustCompile(`(?s)<pre><code[^>]*>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	liRe         = regexp.MustCompile(`<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	matrixToRe   = regexp.MustCompile(`https://matrix\.to/#/[^\s)]+`)
)

// Parse converts Matrix message content to GroupMe plain text.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := content.FormattedBody

	text = preRe.ReplaceAllString(text, "\n$1\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = liRe.ReplaceAllString(text, "- $1\n")
	text = pRe.ReplaceAllString(text, "$1\n")
	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := blockquoteRe.FindStringSubmatch(match)[1]
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n") + "\n"
	})

	// Keep link targets unless the label already is the target. Matrix user
	// pills keep just their label; the matrix.to URL means nothing to GroupMe.
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], parts[2]
		if label == href || matrixToRe.MatchString(href) {
			return label
		}
		return label + " (" + href + ")"
	})

	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	return strings.TrimRight(text, "\n")
}
