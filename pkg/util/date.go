package util

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// ParseRange parses "<from>..<to>" where either side may be empty. An empty
// from means the zero time; an empty to means now.
func ParseRange(s string, now time.Time) (time.Time, time.Time, bool) {
	if s == "" {
		return time.Time{}, now, true
	}
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			from := ParseTimeDefault(s[:i], time.Time{})
			to := ParseTimeDefault(s[i+2:], now)
			if !from.IsZero() || s[:i] == "" {
				return from, to, true
			}
			return time.Time{}, time.Time{}, false
		}
	}
	if t, ok := ParseTime(s); ok {
		return t, now, true
	}
	return time.Time{}, time.Time{}, false
}

// RelativeTime renders t against now as "3 minutes ago" style text.
func RelativeTime(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
