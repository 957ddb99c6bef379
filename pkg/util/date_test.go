package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	from, to, ok := ParseRange("2025-05-01T00:00:00Z..2025-05-31T00:00:00Z", now)
	if !ok {
		t.Fatalf("expected ok")
	}
	if from.UTC().Format(time.RFC3339) != "2025-05-01T00:00:00Z" {
		t.Errorf("unexpected from %v", from)
	}
	if to.UTC().Format(time.RFC3339) != "2025-05-31T00:00:00Z" {
		t.Errorf("unexpected to %v", to)
	}

	from, to, ok = ParseRange("2025-05-01T00:00:00Z..", now)
	if !ok {
		t.Fatalf("expected ok for open-ended range")
	}
	if !to.Equal(now) {
		t.Errorf("expected to=now, got %v", to)
	}

	if _, _, ok := ParseRange("garbage..", now); ok {
		t.Error("expected failure for unparseable from")
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := RelativeTime(now.Add(-3*time.Minute), now)
	if got != "3 minutes ago" {
		t.Errorf("unexpected relative time %q", got)
	}
}
