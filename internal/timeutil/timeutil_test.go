package timeutil

import (
	"strings"
	"testing"
	"time"

	"kosha/internal/clock"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable for %s: %v", name, err)
	}
	return loc
}

func TestNormalizeNaiveKeepsWallClock(t *testing.T) {
	t.Parallel()

	jkt := mustLoc(t, "Asia/Jakarta")
	n := NewNormalizer(jkt, nil)

	got := n.Normalize(Naive(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)))
	if got.Hour() != 9 || got.Minute() != 30 || got.Location() != jkt {
		t.Fatalf("naive stamp shifted: %v", got)
	}
}

func TestNormalizeAwareConverts(t *testing.T) {
	t.Parallel()

	jkt := mustLoc(t, "Asia/Jakarta")
	n := NewNormalizer(jkt, nil)

	in := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	got := n.Normalize(Aware(in))
	if !got.Equal(in) {
		t.Fatalf("instant changed: %v vs %v", got, in)
	}
	if got.Hour() != 9 {
		t.Fatalf("expected 09:00 in Jakarta, got %v", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	ny := mustLoc(t, "America/New_York")
	n := NewNormalizer(ny, nil)
	for _, s := range []Stamp{
		Naive(time.Date(2026, 11, 1, 1, 30, 0, 0, time.UTC)),
		Aware(time.Date(2026, 7, 4, 23, 59, 59, 0, time.UTC)),
		Aware(time.Date(2026, 1, 1, 0, 0, 0, 0, mustLoc(t, "Asia/Tokyo"))),
	} {
		once := n.Normalize(s)
		twice := n.Normalize(Aware(once))
		if !once.Equal(twice) || twice.Location() != once.Location() {
			t.Fatalf("not idempotent for %v: %v then %v", s, once, twice)
		}
	}
}

func TestParseStamp(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		raw   string
		aware bool
		hour  int
	}{
		{"2026-05-01T08:15:00+07:00", true, 8},
		{"2026-05-01T08:15:00Z", true, 8},
		{"2026-05-01T08:15:00", false, 8},
		{"2026-05-01 08:15:00.123456", false, 8},
		{"2026-05-01 08:15", false, 8},
	} {
		s, err := ParseStamp(tc.raw)
		if err != nil {
			t.Fatalf("ParseStamp(%q): %v", tc.raw, err)
		}
		if s.Aware != tc.aware || s.Wall.Hour() != tc.hour {
			t.Fatalf("ParseStamp(%q) = %+v", tc.raw, s)
		}
		back, err := ParseStamp(s.String())
		if err != nil || back.Aware != s.Aware || !back.Wall.Equal(s.Wall) {
			t.Fatalf("round trip of %q failed: %+v %v", tc.raw, back, err)
		}
	}
	if _, err := ParseStamp("next tuesday"); err == nil {
		t.Fatalf("expected error for free text")
	}
}

func TestDayHelpers(t *testing.T) {
	t.Parallel()

	jkt := mustLoc(t, "Asia/Jakarta")
	// 18:30 UTC is already the next day in Jakarta.
	c := clock.NewFake(time.Date(2026, 4, 9, 18, 30, 0, 0, time.UTC))
	n := NewNormalizer(jkt, c)
	if got := n.Today(); got != "2026-04-10" {
		t.Fatalf("Today = %s", got)
	}
	if got := n.Yesterday(); got != "2026-04-09" {
		t.Fatalf("Yesterday = %s", got)
	}
}

func newSearcherAt(t *testing.T, now time.Time) *Searcher {
	t.Helper()
	return NewSearcher(NewNormalizer(now.Location(), clock.NewFake(now)))
}

func TestReminderInputRelative(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	s := newSearcherAt(t, now)

	at, msg, ok := s.ReminderInput("in 2 hours call mom")
	if !ok {
		t.Fatalf("expected a match")
	}
	if !at.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("at = %v", at)
	}
	if msg != "call mom" {
		t.Fatalf("msg = %q", msg)
	}
}

func TestSearchDatesPrefersFutureForPassedHour(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	s := newSearcherAt(t, now)

	m, ok := s.SearchDates("water plants at 10am", SearchOptions{PreferFuture: true})
	if !ok {
		t.Fatalf("expected a match")
	}
	if !m.At.After(now) || m.At.Hour() != 10 {
		t.Fatalf("expected tomorrow 10:00, got %v", m.At)
	}
	if !strings.Contains(m.Span, "10am") {
		t.Fatalf("span = %q", m.Span)
	}
}

func TestSearchDatesNoMatch(t *testing.T) {
	t.Parallel()

	s := newSearcherAt(t, time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC))
	for _, text := range []string{"", "   ", "buy milk"} {
		if _, ok := s.SearchDates(text, SearchOptions{}); ok {
			t.Fatalf("unexpected match for %q", text)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	s := newSearcherAt(t, now)

	d, ok := s.ParseDate("2026-05-31")
	if !ok || d.Format(DayLayout) != "2026-05-31" {
		t.Fatalf("iso date: %v %v", d, ok)
	}
	d, ok = s.ParseDate("yesterday")
	if !ok || d.Format(DayLayout) != "2026-06-09" {
		t.Fatalf("yesterday: %v %v", d, ok)
	}
	if d.Hour() != 0 {
		t.Fatalf("expected local midnight, got %v", d)
	}
}
