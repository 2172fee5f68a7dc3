package timeutil

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Match is a time expression found in free text.
type Match struct {
	Span  string
	Index int
	At    time.Time
}

type SearchOptions struct {
	// PreferFuture resolves day-less expressions that already passed today
	// to tomorrow. When false, bare weekdays and month dates resolve backward.
	PreferFuture bool
	// RelativeBase anchors relative expressions. Zero means now.
	RelativeBase time.Time
}

var (
	explicitDay = regexp.MustCompile(`(?i)\b(today|tonight|yesterday|tomorrow|mon|tue|wed|thu|fri|sat|sun|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec|ago|in|within|after)\w*\b|\d{1,4}[/.-]\d{1,2}`)
	futureWord  = regexp.MustCompile(`(?i)\b(next|tomorrow|in|within|after)\b`)
	weekdayOnly = regexp.MustCompile(`(?i)^(on\s+)?(this\s+|last\s+|past\s+)?(mon|tue|wed|thu|fri|sat|sun)[a-z]*$`)
	monthName   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
	spaces      = regexp.MustCompile(`\s{2,}`)
)

// Searcher finds and resolves time expressions with olebedev/when.
type Searcher struct {
	w    *when.Parser
	norm *Normalizer
}

func NewSearcher(norm *Normalizer) *Searcher {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Searcher{w: w, norm: norm}
}

// SearchDates returns the first time expression in text. Parser errors and
// empty input are reported as no match.
func (s *Searcher) SearchDates(text string, opt SearchOptions) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	base := opt.RelativeBase
	if base.IsZero() {
		base = s.norm.Now()
	}
	base = s.norm.In(base)

	r, err := s.w.Parse(text, base)
	if err != nil || r == nil {
		return Match{}, false
	}
	at := s.norm.Normalize(Aware(r.Time))
	span := strings.TrimSpace(r.Text)

	switch {
	case opt.PreferFuture && !at.After(base) && at.After(base.Add(-24*time.Hour)) && !explicitDay.MatchString(span):
		at = at.AddDate(0, 0, 1)
	case !opt.PreferFuture && at.After(base) && !futureWord.MatchString(span):
		if weekdayOnly.MatchString(span) {
			at = at.AddDate(0, 0, -7)
		} else if monthName.MatchString(span) && at.Sub(base) > 24*time.Hour {
			at = at.AddDate(-1, 0, 0)
		}
	}
	return Match{Span: r.Text, Index: r.Index, At: at}, true
}

// ReminderInput splits "/remind" arguments into the fire instant and the
// message with the time expression cut out.
func (s *Searcher) ReminderInput(text string) (time.Time, string, bool) {
	m, ok := s.SearchDates(text, SearchOptions{PreferFuture: true})
	if !ok {
		return time.Time{}, "", false
	}
	msg := text
	if m.Index >= 0 && m.Index+len(m.Span) <= len(text) && text[m.Index:m.Index+len(m.Span)] == m.Span {
		msg = text[:m.Index] + text[m.Index+len(m.Span):]
	} else {
		msg = strings.Replace(text, m.Span, "", 1)
	}
	msg = strings.TrimSpace(spaces.ReplaceAllString(msg, " "))
	msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, "to "), "that "))
	return m.At, msg, true
}

// ParseDate resolves a day reference for look-ups of past data. ISO dates
// are accepted verbatim; everything else goes through SearchDates with past
// preference. The result is local midnight.
func (s *Searcher) ParseDate(text string) (time.Time, bool) {
	if d, err := s.norm.ParseDay(text); err == nil {
		return d, true
	}
	m, ok := s.SearchDates(text, SearchOptions{PreferFuture: false})
	if !ok {
		return time.Time{}, false
	}
	y, mo, d := m.At.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, s.norm.Location()), true
}
