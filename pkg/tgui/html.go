package tgui

import (
	"html"
	"strings"
)

// H is HTML that is already safe for ParseMode=HTML.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text for HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tagged(tag, text string) H {
	return H("<" + tag + ">" + html.EscapeString(text) + "</" + tag + ">")
}

func B(s string) H    { return tagged("b", s) }
func I(s string) H    { return tagged("i", s) }
func S(s string) H    { return tagged("s", s) }
func Code(s string) H { return tagged("code", s) }
func Pre(s string) H  { return tagged("pre", s) }

// Lines joins non-empty parts with newlines.
func Lines(parts ...H) H {
	keep := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) != "" {
			keep = append(keep, string(p))
		}
	}
	return H(strings.Join(keep, "\n"))
}
