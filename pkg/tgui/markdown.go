package tgui

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	mdFence  = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*\\n)?(.*?)```")
	mdInline = regexp.MustCompile("`([^`\\n]+)`")
	mdBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic = regexp.MustCompile(`\*([^*\n]+?)\*`)
	mdBullet = regexp.MustCompile(`(?m)^(\s*)[*-] `)
	mdSlot   = regexp.MustCompile("\x00([0-9]+)\x00")
)

// MarkdownToSafeHTML converts the Markdown subset language models produce
// into Telegram HTML. All text is escaped first; code spans are escaped once
// and protected from emphasis rewriting. Supported: fenced blocks to <pre>,
// `code`, **bold**, *italic*, and "* " bullets.
func MarkdownToSafeHTML(md string) string {
	var slots []string
	keep := func(rendered string) string {
		slots = append(slots, rendered)
		return "\x00" + strconv.Itoa(len(slots)-1) + "\x00"
	}

	s := mdFence.ReplaceAllStringFunc(md, func(m string) string {
		sub := mdFence.FindStringSubmatch(m)
		return keep("<pre>" + html.EscapeString(strings.Trim(sub[2], "\n")) + "</pre>")
	})
	s = mdInline.ReplaceAllStringFunc(s, func(m string) string {
		return keep("<code>" + html.EscapeString(m[1:len(m)-1]) + "</code>")
	})

	s = html.EscapeString(s)
	s = mdBullet.ReplaceAllString(s, "${1}• ")
	s = mdBold.ReplaceAllString(s, "<b>$1</b>")
	s = mdItalic.ReplaceAllString(s, "<i>$1</i>")

	return mdSlot.ReplaceAllStringFunc(s, func(m string) string {
		i, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || i >= len(slots) {
			return m
		}
		return slots[i]
	})
}

var markdownV1Special = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdownV1 escapes user text for the legacy Markdown parse mode.
func EscapeMarkdownV1(s string) string { return markdownV1Special.Replace(s) }
