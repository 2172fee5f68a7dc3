package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func dailySpec(hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// HourWindow is an inclusive range of local hours. End < Start wraps
// midnight.
type HourWindow struct {
	Start, End int
}

// ParseHourWindow parses "SS-EE", e.g. "06-23" or "22-02".
func ParseHourWindow(s string) (HourWindow, error) {
	s = strings.TrimSpace(s)
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return HourWindow{}, fmt.Errorf("invalid hour window %q, expected HH-HH", s)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(a))
	end, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return HourWindow{}, fmt.Errorf("invalid hour window %q", s)
	}
	w := HourWindow{Start: start, End: end}
	return w, w.Validate()
}

func (w HourWindow) Validate() error {
	if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
		return fmt.Errorf("hour window %d-%d out of range 0..23", w.Start, w.End)
	}
	return nil
}

// Spec is the cron expression firing at minute 0 of every hour in w.
func (w HourWindow) Spec() string {
	if w.End < w.Start {
		return fmt.Sprintf("0 %d-23,0-%d * * *", w.Start, w.End)
	}
	return fmt.Sprintf("0 %d-%d * * *", w.Start, w.End)
}

func (w HourWindow) String() string { return fmt.Sprintf("%02d-%02d", w.Start, w.End) }
