package tgui

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextIsOneChunk(t *testing.T) {
	t.Parallel()

	got := Split("hello\n\nworld", 100)
	if len(got) != 1 || got[0] != "hello\n\nworld" {
		t.Fatalf("got %q", got)
	}
	if got := Split("  \n\n \n\n", 10); len(got) != 0 {
		t.Fatalf("blank input should yield no chunks, got %q", got)
	}
}

func TestSplitPacksParagraphsGreedily(t *testing.T) {
	t.Parallel()

	paras := []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}
	got := Split(strings.Join(paras, "\n\n"), 90)
	want := []string{paras[0] + "\n\n" + paras[1], paras[2]}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSplitFallsBackToLines(t *testing.T) {
	t.Parallel()

	long := strings.Join([]string{strings.Repeat("x", 30), strings.Repeat("y", 30), strings.Repeat("z", 30)}, "\n")
	got := Split("intro\n\n"+long, 64)
	want := []string{"intro", strings.Repeat("x", 30) + "\n" + strings.Repeat("y", 30), strings.Repeat("z", 30)}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSplitKeepsOversizedLineWhole(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("w", 50)
	got := Split("a\n"+huge+"\nb", 20)
	if len(got) != 3 || got[1] != huge {
		t.Fatalf("got %q", got)
	}
}

func TestSplitChunkLengthBound(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "p%d-%s-end\n\n", i, strings.Repeat("é", i%37))
	}
	const maxLen = 120
	chunks := Split(b.String(), maxLen)
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > maxLen && strings.Contains(c, "\n") {
			t.Fatalf("chunk %d has %d runes and is not a single line", i, utf8.RuneCountInString(c))
		}
	}
	if strings.Join(chunks, "\n\n") != strings.TrimSpace(b.String()) {
		t.Fatalf("chunks do not reconstruct the trimmed paragraphs")
	}
}

func TestOpenTags(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want string
	}{
		{"<b>x</b>", ""},
		{"<b><i>x", "b,i"},
		{"<b><i>x</b>", "b,i"},
		{"<B>x<Code>y</code>", "b"},
		{"</i><pre>x", "pre"},
		{`<a href="x">x</a><s>y`, ""},
	} {
		if got := strings.Join(OpenTags(tc.in), ","); got != tc.want {
			t.Fatalf("OpenTags(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestFixTagBalanceCarriesTags(t *testing.T) {
	t.Parallel()

	got := FixTagBalance([]string{"<b>one <i>two", "three</i> four", "five</b>"})
	want := []string{
		"<b>one <i>two</i></b>",
		"<b><i>three</i> four</b>",
		"<b>five</b>",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFixTagBalanceLastChunkUnclosed(t *testing.T) {
	t.Parallel()

	got := FixTagBalance([]string{"plain", "<code>open"})
	if got[1] != "<code>open" {
		t.Fatalf("last chunk should not get closers: %q", got[1])
	}
}

func TestFixTagBalanceEveryChunkBalancedAndTextPreserved(t *testing.T) {
	t.Parallel()

	src := strings.Repeat("<b>bold <i>both</i></b> plain <pre>code\nmore</pre>\n\n", 60)
	chunks := SplitHTML(src, 100)
	for i, c := range chunks[:len(chunks)-1] {
		if open := OpenTags(c); len(open) != 0 {
			t.Fatalf("chunk %d leaves %v open: %q", i, open, c)
		}
	}
	var visible strings.Builder
	for _, c := range chunks {
		visible.WriteString(StripTags(c) + " ")
	}
	norm := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	if norm(visible.String()) != norm(StripTags(src)) {
		t.Fatalf("visible text changed")
	}
}

func TestBoldAcrossSplitBoundary(t *testing.T) {
	t.Parallel()

	// About 9000 characters of 90-char paragraphs; <b> opens near 3990 and
	// closes near 8010.
	var b strings.Builder
	for b.Len() < 9000 {
		pos := b.Len()
		switch {
		case pos >= 3850 && pos < 3900:
			b.WriteString(strings.Repeat("p", 80) + "<b>" + strings.Repeat("p", 5))
		case pos >= 7900 && pos < 7950:
			b.WriteString(strings.Repeat("q", 80) + "</b>" + strings.Repeat("q", 4))
		default:
			b.WriteString(strings.Repeat("t", 88))
		}
		b.WriteString("\n\n")
	}
	text := b.String()
	open := strings.Index(text, "<b>")
	closeAt := strings.Index(text, "</b>")
	if open < 3900 || open > 4000 || closeAt < 7900 || closeAt > 8100 {
		t.Fatalf("fixture off: <b> at %d, </b> at %d", open, closeAt)
	}

	chunks := SplitHTML(text, 4000)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "</b>") {
		t.Fatalf("chunk 1 should end with </b>: ...%q", chunks[0][len(chunks[0])-20:])
	}
	if !strings.HasPrefix(chunks[1], "<b>") {
		t.Fatalf("chunk 2 should start with <b>: %q...", chunks[1][:20])
	}

	// Balancing only adds tags; the visible text survives intact.
	stripped := make([]string, len(chunks))
	for i, c := range chunks {
		stripped[i] = StripTags(c)
	}
	if got, want := strings.Join(stripped, "\n\n"), strings.TrimSpace(StripTags(text)); got != want {
		t.Fatalf("visible text changed: %d bytes, want %d", len(got), len(want))
	}
}

func TestMarkdownToSafeHTML(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in, want string
	}{
		{"**hi** <there>", "<b>hi</b> &lt;there&gt;"},
		{"an *aside* & more", "an <i>aside</i> &amp; more"},
		{"use `a<b` now", "use <code>a&lt;b</code> now"},
		{"```go\nx := **y**\n```", "<pre>x := **y**</pre>"},
		{"* one\n* two", "• one\n• two"},
	} {
		if got := MarkdownToSafeHTML(tc.in); got != tc.want {
			t.Fatalf("MarkdownToSafeHTML(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeMarkdownV1(t *testing.T) {
	t.Parallel()

	if got := EscapeMarkdownV1("a_b*c`d[e"); got != "a\\_b\\*c\\`d\\[e" {
		t.Fatalf("got %q", got)
	}
}

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()

	d := Data("todo", "done", "12")
	if d != "todo:done:12" {
		t.Fatalf("Data = %q", d)
	}
	scope, action, payload := ParseData(d)
	if scope != "todo" || action != "done" || payload != "12" {
		t.Fatalf("ParseData = %q %q %q", scope, action, payload)
	}
	if CheckData(strings.Repeat("x", 65)) == nil {
		t.Fatalf("expected length error")
	}
}

func TestPaginateAndTrunc(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5}
	sub, p := Paginate(items, Page{Index: 9, Size: 2})
	if fmt.Sprint(sub) != "[5]" || p.Index != 2 || p.HasNext() || !p.HasPrev() {
		t.Fatalf("Paginate = %v %+v", sub, p)
	}
	if p.Label() != "Page 3/3" {
		t.Fatalf("Label = %q", p.Label())
	}
	if got := TruncRunes("héllo world", 5); got != "héll…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("abc", 5); got != "abc" {
		t.Fatalf("TruncRunes short = %q", got)
	}
}
