package usecase

import (
	"context"
	"testing"

	"TrapFlow/internal/domain/models"
)

type fakeWindow struct{ updates int }

func (w *fakeWindow) Update(*models.Tick) { w.updates++ }

type fakeScanner struct{ events []*models.TrapEvent }

func (s *fakeScanner) OnTick(*models.Tick) []*models.TrapEvent { return s.events }

type fakeAlerts struct{ submitted []*models.TrapEvent }

func (a *fakeAlerts) Submit(e *models.TrapEvent) { a.submitted = append(a.submitted, e) }

func TestDetectStageFansOut(t *testing.T) {
	w := &fakeWindow{}
	scanner := &fakeScanner{events: []*models.TrapEvent{
		event("e1", models.StopHunt, 0.9, analyticsBase),
		event("e2", models.BullTrap, 0.8, analyticsBase),
	}}
	alerts := &fakeAlerts{}
	journal := &memJournal{}

	stage := NewDetectStage(w, scanner, journal, alerts, testLogger(t), nopMetrics{})
	if err := stage.Process(context.Background(), srcTick("ws", 1000, 100)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if w.updates != 1 {
		t.Errorf("window updates = %d, want 1", w.updates)
	}
	if len(alerts.submitted) != 2 {
		t.Errorf("alerts submitted = %d, want 2", len(alerts.submitted))
	}
	if len(journal.events) != 2 {
		t.Errorf("journal events = %d, want 2", len(journal.events))
	}
}

func TestDetectStageNoEvents(t *testing.T) {
	w := &fakeWindow{}
	stage := NewDetectStage(w, &fakeScanner{}, &memJournal{}, &fakeAlerts{}, testLogger(t), nopMetrics{})
	if err := stage.Process(context.Background(), srcTick("ws", 1000, 100)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if w.updates != 1 {
		t.Errorf("window updates = %d, want 1", w.updates)
	}
}
