package audit

import (
	"context"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, l *Logger, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.GetStats().TotalEvents >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", want, l.GetStats().TotalEvents)
}

func startedLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(true)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		l.Stop()
		cancel()
	})
	return l
}

func TestRecord_StoresEvent(t *testing.T) {
	l := startedLogger(t)

	event := l.Record(Event{
		Actor:   "0xdoc",
		Role:    "doctor",
		Patient: "0xpat",
		Action:  ActionReadRecord,
		Outcome: OutcomeSuccess,
	})
	if event == nil {
		t.Fatal("expected event to be returned")
	}
	if event.ID == "" {
		t.Error("expected event to receive an ID")
	}
	if event.Recorded.IsZero() {
		t.Error("expected event to be timestamped")
	}

	waitForEvents(t, l, 1)

	stored, ok := l.GetEvent(event.ID)
	if !ok {
		t.Fatal("event not found after processing")
	}
	if stored.Action != ActionReadRecord || stored.Outcome != OutcomeSuccess {
		t.Errorf("unexpected stored event: %+v", stored)
	}
}

func TestRecord_Disabled(t *testing.T) {
	l := NewLogger(false)

	if event := l.Record(Event{Actor: "0xdoc", Action: ActionLogin}); event != nil {
		t.Error("disabled logger should not record events")
	}
	if stats := l.GetStats(); stats.TotalEvents != 0 {
		t.Errorf("expected no events, got %d", stats.TotalEvents)
	}
}

func TestGetEvents_Filters(t *testing.T) {
	l := startedLogger(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Record(Event{Actor: "0xdoc1", Patient: "0xpat", Action: ActionReadRecord, Outcome: OutcomeSuccess, Recorded: base})
	l.Record(Event{Actor: "0xdoc2", Patient: "0xpat", Action: ActionReadRecord, Outcome: OutcomeDenied, Recorded: base.Add(time.Minute)})
	l.Record(Event{Actor: "0xpat", Patient: "0xpat", Action: ActionGrantAccess, Outcome: OutcomeSuccess, Recorded: base.Add(2 * time.Minute)})

	waitForEvents(t, l, 3)

	denied := l.GetEvents(EventFilter{Outcome: OutcomeDenied})
	if len(denied) != 1 || denied[0].Actor != "0xdoc2" {
		t.Errorf("unexpected denied events: %+v", denied)
	}

	reads := l.GetEvents(EventFilter{Action: ActionReadRecord})
	if len(reads) != 2 {
		t.Fatalf("expected 2 read events, got %d", len(reads))
	}
	if !reads[0].Recorded.Before(reads[1].Recorded) {
		t.Error("events should be ordered oldest first")
	}

	late := base.Add(90 * time.Second)
	recent := l.GetEvents(EventFilter{StartDate: &late})
	if len(recent) != 1 || recent[0].Action != ActionGrantAccess {
		t.Errorf("unexpected recent events: %+v", recent)
	}

	limited := l.GetEvents(EventFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to cap results, got %d", len(limited))
	}
}

func TestGetStats(t *testing.T) {
	l := startedLogger(t)

	l.Record(Event{Actor: "0xpat", Action: ActionSubmitRecord, Outcome: OutcomeSuccess})
	l.Record(Event{Actor: "0xdoc", Action: ActionReadRecord, Outcome: OutcomeDenied})
	l.Record(Event{Actor: "0xdoc", Action: ActionReadRecord, Outcome: OutcomeError})

	waitForEvents(t, l, 3)

	stats := l.GetStats()
	if stats.TotalEvents != 3 {
		t.Errorf("expected 3 events, got %d", stats.TotalEvents)
	}
	if stats.DeniedEvents != 1 {
		t.Errorf("expected 1 denied event, got %d", stats.DeniedEvents)
	}
	if stats.FailedEvents != 1 {
		t.Errorf("expected 1 failed event, got %d", stats.FailedEvents)
	}
	if stats.ByAction[ActionReadRecord] != 2 {
		t.Errorf("unexpected action counts: %+v", stats.ByAction)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := NewLogger(true)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	l.Stop()
	l.Stop() // second stop must not panic
}
