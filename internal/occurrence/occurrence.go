// Package occurrence computes reminder firing instants from time-of-day lists.
package occurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noahxzhu/pillbox/internal/model"
)

// Next returns the first occurrence at or after ref. Times are zero-padded
// 24h "HH:MM" strings, so lexicographic order is chronological order.
// The bool is false when repeat is once and every time has already passed.
func Next(times []string, repeat model.Repeat, ref time.Time) (time.Time, bool) {
	sorted := append([]string(nil), times...)
	sort.Strings(sorted)

	var earliest *clock
	for _, t := range sorted {
		c, err := parseClock(t)
		if err != nil {
			continue
		}
		if earliest == nil {
			earliest = &c
		}
		candidate := c.on(ref)
		if !candidate.Before(ref) {
			return candidate, true
		}
	}

	if earliest == nil || repeat != model.RepeatDaily {
		return time.Time{}, false
	}

	y, m, d := ref.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, ref.Location())
	return earliest.on(tomorrow), true
}

// ValidateTimes checks every entry and returns the sorted set without
// duplicates. An empty list is rejected.
func ValidateTimes(times []string) ([]string, error) {
	seen := make(map[string]struct{}, len(times))
	out := make([]string, 0, len(times))
	for _, raw := range times {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		if _, err := parseClock(t); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidReminder, err)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one time of day is required", model.ErrInvalidReminder)
	}
	sort.Strings(out)
	return out, nil
}

type clock struct {
	hour, minute int
}

func (c clock) on(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.hour, c.minute, 0, 0, day.Location())
}

func parseClock(s string) (clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return clock{}, fmt.Errorf("time %q must be HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clock{}, fmt.Errorf("time %q: %w", s, err)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}
