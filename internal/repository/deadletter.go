package repository

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"TrapFlow/internal/domain/models"
)

// DeadLetter appends events the journal could not persist to a local JSONL
// file. One JSON object per line; the file survives restarts and is drained
// back into the journal by `journal replay` or on startup.
type DeadLetter struct {
	path string

	mu sync.Mutex
	f  *os.File
}

type deadLetterEntry struct {
	FailedAt time.Time         `json:"failed_at"`
	Reason   string            `json:"reason"`
	Event    *models.TrapEvent `json:"event"`
}

func NewDeadLetter(path string) *DeadLetter {
	return &DeadLetter{path: path}
}

func (d *DeadLetter) Write(e *models.TrapEvent, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
			return fmt.Errorf("dead letter dir: %w", err)
		}
		f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("dead letter open: %w", err)
		}
		d.f = f
	}

	line, err := json.Marshal(deadLetterEntry{
		FailedAt: time.Now().UTC(),
		Reason:   reason,
		Event:    e,
	})
	if err != nil {
		return fmt.Errorf("dead letter marshal: %w", err)
	}
	line = append(line, '\n')
	if _, err := d.f.Write(line); err != nil {
		return fmt.Errorf("dead letter write: %w", err)
	}
	return d.f.Sync()
}

// Drain reads every dead-lettered event, sorted by detected_at, and hands
// each to fn. Only if every event is accepted is the file removed; a partial
// drain leaves the file intact so nothing is lost.
func (d *DeadLetter) Drain(fn func(*models.TrapEvent) error) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dead letter open: %w", err)
	}

	var events []*models.TrapEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var entry deadLetterEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			_ = f.Close()
			return 0, fmt.Errorf("dead letter parse: %w", err)
		}
		if entry.Event != nil {
			events = append(events, entry.Event)
		}
	}
	if err := sc.Err(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("dead letter read: %w", err)
	}
	_ = f.Close()

	sort.Slice(events, func(i, j int) bool {
		return events[i].DetectedAt.Before(events[j].DetectedAt)
	})

	for i, e := range events {
		if err := fn(e); err != nil {
			return i, fmt.Errorf("dead letter drain at %d/%d: %w", i, len(events), err)
		}
	}

	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return len(events), fmt.Errorf("dead letter truncate: %w", err)
	}
	return len(events), nil
}

func (d *DeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
