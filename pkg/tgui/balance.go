package tgui

import (
	"regexp"
	"strings"
)

// TrackedTags are the inline tags FixTagBalance keeps balanced.
var TrackedTags = map[string]bool{
	"pre": true, "code": true, "b": true, "i": true, "u": true, "strong": true, "em": true,
}

var simpleTag = regexp.MustCompile(`</?([A-Za-z][A-Za-z0-9]*)>`)

// OpenTags scans text and returns the tracked tags still open at its end,
// outermost first. A closing tag only pops when it matches the innermost
// open tag; any other closer is ignored.
func OpenTags(text string) []string {
	return scanTags(text, nil)
}

func scanTags(text string, stack []string) []string {
	for _, m := range simpleTag.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if !TrackedTags[name] {
			continue
		}
		if strings.HasPrefix(m[0], "</") {
			if n := len(stack); n > 0 && stack[n-1] == name {
				stack = stack[:n-1]
			}
			continue
		}
		stack = append(stack, name)
	}
	return stack
}

// FixTagBalance makes every chunk independently well formed for HTML parse
// mode. Tags left open at the end of a chunk are closed there (innermost
// first) and reopened at the start of the next chunk. The last chunk gets
// no synthetic closers. Input with stray closers passes through unchanged
// apart from the carried tags.
func FixTagBalance(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	var stack []string
	for i, chunk := range chunks {
		var b strings.Builder
		for _, tag := range stack {
			b.WriteString("<" + tag + ">")
		}
		b.WriteString(chunk)

		stack = scanTags(chunk, stack)

		if i < len(chunks)-1 {
			for j := len(stack) - 1; j >= 0; j-- {
				b.WriteString("</" + stack[j] + ">")
			}
		}
		out = append(out, b.String())
	}
	return out
}

// StripTags removes every simple tag, leaving the visible text.
func StripTags(s string) string {
	return simpleTag.ReplaceAllString(s, "")
}

// SplitHTML is Split followed by FixTagBalance.
func SplitHTML(html string, maxLen int) []string {
	return FixTagBalance(Split(html, maxLen))
}
