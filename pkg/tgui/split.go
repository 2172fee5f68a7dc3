package tgui

import (
	"strings"
	"unicode/utf8"
)

const (
	paragraphSep = "\n\n"
	lineSep      = "\n"
)

// Split breaks text into chunks of at most maxLen runes, preferring
// paragraph boundaries and falling back to line boundaries inside long
// paragraphs. Paragraphs are trimmed and blank ones dropped. A single line
// longer than maxLen is emitted whole, so that chunk exceeds maxLen.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1
	}
	var p packer
	p.max = maxLen
	for _, para := range strings.Split(text, paragraphSep) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= maxLen {
			p.add(para, paragraphSep)
			continue
		}
		// Lines of one paragraph are never packed with other paragraphs.
		p.flush()
		for _, line := range strings.Split(para, lineSep) {
			p.add(line, lineSep)
		}
		p.flush()
	}
	p.flush()
	return p.out
}

// packer greedily fills chunks.
type packer struct {
	max  int
	cur  strings.Builder
	n    int
	used bool
	out  []string
}

func (p *packer) add(piece, sep string) {
	size := utf8.RuneCountInString(piece)
	if p.used && p.n+len(sep)+size > p.max {
		p.flush()
	}
	if p.used {
		p.cur.WriteString(sep)
		p.n += len(sep)
	}
	p.cur.WriteString(piece)
	p.n += size
	p.used = true
}

func (p *packer) flush() {
	if !p.used {
		return
	}
	p.out = append(p.out, p.cur.String())
	p.cur.Reset()
	p.n = 0
	p.used = false
}
