package timeutil

import (
	"fmt"
	"strings"
	"time"

	"kosha/internal/clock"
)

const (
	DayLayout     = "2006-01-02"
	MinuteLayout  = "2006-01-02 15:04"
	naiveLayout   = "2006-01-02T15:04:05.999999999"
	naiveLayoutSp = "2006-01-02 15:04:05.999999999"
)

// Stamp is a timestamp that may lack a zone. A naive stamp carries only
// wall-clock fields; the zone of Wall is ignored.
type Stamp struct {
	Wall  time.Time
	Aware bool
}

func Naive(t time.Time) Stamp { return Stamp{Wall: t, Aware: false} }
func Aware(t time.Time) Stamp { return Stamp{Wall: t, Aware: true} }

// String renders the storage form: RFC3339 with offset for aware stamps,
// bare ISO wall clock for naive ones.
func (s Stamp) String() string {
	if s.Aware {
		return s.Wall.Format(time.RFC3339Nano)
	}
	return s.Wall.Format(naiveLayout)
}

// ParseStamp reads the formats ever written to storage. Input with an offset
// yields an aware stamp; anything else is naive.
func ParseStamp(raw string) (Stamp, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return Aware(t), nil
	}
	for _, layout := range []string{naiveLayout, naiveLayoutSp, MinuteLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return Naive(t), nil
		}
	}
	return Stamp{}, fmt.Errorf("timeutil: unrecognized timestamp %q", raw)
}

// Normalizer converts instants into the configured zone.
type Normalizer struct {
	loc *time.Location
	clk clock.Clock
}

// NewNormalizer uses UTC for a nil loc and the real clock for a nil clk.
func NewNormalizer(loc *time.Location, clk clock.Clock) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Normalizer{loc: loc, clk: clk}
}

func (n *Normalizer) Location() *time.Location { return n.loc }

// Now is the current instant in the configured zone.
func (n *Normalizer) Now() time.Time { return n.clk.Now().In(n.loc) }

// Normalize re-tags a naive stamp's wall clock in the configured zone (no
// shift) and converts an aware one. It is idempotent.
func (n *Normalizer) Normalize(s Stamp) time.Time {
	if s.Aware {
		return s.Wall.In(n.loc)
	}
	w := s.Wall
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), n.loc)
}

// In converts an aware instant.
func (n *Normalizer) In(t time.Time) time.Time { return t.In(n.loc) }

// Day is the local calendar date of t as YYYY-MM-DD.
func (n *Normalizer) Day(t time.Time) string { return t.In(n.loc).Format(DayLayout) }

func (n *Normalizer) Today() string { return n.Day(n.clk.Now()) }

// Yesterday is the local date before the one containing now.
func (n *Normalizer) Yesterday() string {
	return n.Now().AddDate(0, 0, -1).Format(DayLayout)
}

// ParseDay parses YYYY-MM-DD as local midnight.
func (n *Normalizer) ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, strings.TrimSpace(s), n.loc)
}
