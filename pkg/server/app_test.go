package server

import (
	"errors"
	"testing"

	applogger "TrapFlow/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestRunStopsPropagatesFailures(t *testing.T) {
	boom := errors.New("connection reset")
	var ran []string
	steps := []stopStep{
		{"first", func() error { ran = append(ran, "first"); return boom }},
		{"second", func() error { ran = append(ran, "second"); return nil }},
		{"third", func() error { ran = append(ran, "third"); return errors.New("flush failed") }},
	}

	err := runStops(testLogger(t), steps)
	if err == nil {
		t.Fatal("runStops returned nil with failing steps")
	}
	if !errors.Is(err, boom) {
		t.Errorf("joined error does not carry the first failure: %v", err)
	}
	if len(ran) != 3 {
		t.Errorf("ran %d steps, want 3; a failure must not block later steps", len(ran))
	}
}

func TestRunStopsCleanReturnsNil(t *testing.T) {
	steps := []stopStep{
		{"only", func() error { return nil }},
	}
	if err := runStops(testLogger(t), steps); err != nil {
		t.Fatalf("runStops = %v, want nil", err)
	}
}
