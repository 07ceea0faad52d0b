package session

import (
	"testing"
	"time"

	"collector/internal/storage"
)

func mkEvent(t *testing.T, ts, eventType, priority, app string) Event {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("parsing test ts %q: %v", ts, err)
	}
	return Event{TS: parsed, EventType: eventType, Priority: priority, App: app}
}

func TestSessionizeSplitsOnGap(t *testing.T) {
	events := []Event{
		mkEvent(t, "2026-01-01T09:00:00Z", "os.foreground_changed", "P2", "chrome"),
		mkEvent(t, "2026-01-01T09:05:00Z", "os.foreground_changed", "P2", "chrome"),
		mkEvent(t, "2026-01-01T09:30:00Z", "os.foreground_changed", "P2", "excel"),
	}
	sessions := Sessionize(events, 900)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions from a 25-minute gap, got %d", len(sessions))
	}
	if len(sessions[0]) != 2 || len(sessions[1]) != 1 {
		t.Fatalf("unexpected session membership: %+v", sessions)
	}
}

func TestSessionizeClosesOnIdleStart(t *testing.T) {
	events := []Event{
		mkEvent(t, "2026-01-01T09:00:00Z", "os.foreground_changed", "P2", "chrome"),
		mkEvent(t, "2026-01-01T09:01:00Z", "os.idle_start", "", ""),
		mkEvent(t, "2026-01-01T09:02:00Z", "os.foreground_changed", "P2", "excel"),
	}
	sessions := Sessionize(events, 900)
	if len(sessions) != 2 {
		t.Fatalf("expected idle_start to close the session, got %d sessions", len(sessions))
	}
	for _, s := range sessions {
		for _, e := range s {
			if e.EventType == "os.idle_start" {
				t.Fatal("idle_start event should not appear in any session")
			}
		}
	}
}

func TestSessionizeClosesOnP0(t *testing.T) {
	events := []Event{
		mkEvent(t, "2026-01-01T09:00:00Z", "os.foreground_changed", "P2", "chrome"),
		mkEvent(t, "2026-01-01T09:00:30Z", "excel.export_pdf", "P0", "excel"),
		mkEvent(t, "2026-01-01T09:01:00Z", "os.foreground_changed", "P2", "outlook"),
	}
	sessions := Sessionize(events, 900)
	if len(sessions) != 2 {
		t.Fatalf("expected P0 event to close its session, got %d sessions", len(sessions))
	}
	if len(sessions[0]) != 2 {
		t.Fatalf("expected P0 event to remain in the session it closes, got %+v", sessions[0])
	}
}

func TestBuildRecordsComputesDurationAndSummary(t *testing.T) {
	sessions := [][]Event{{
		mkEvent(t, "2026-01-01T09:00:00Z", "os.app_focus_block", "P1", "excel"),
		mkEvent(t, "2026-01-01T09:10:00Z", "excel.export_pdf", "P0", "excel"),
	}}
	records, err := BuildRecords(sessions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DurationSec != 600 {
		t.Errorf("expected duration 600s, got %d", records[0].DurationSec)
	}
	if records[0].SessionID == "" {
		t.Error("expected a generated session_id")
	}
}

func TestRowsToEventsDropsUnparseableTimestampsAndSorts(t *testing.T) {
	rows := []storage.EventRecord{
		{TS: "not-a-timestamp", EventType: "os.foreground_changed"},
		{TS: "2026-01-01T09:05:00Z", EventType: "b"},
		{TS: "2026-01-01T09:00:00Z", EventType: "a"},
	}
	events := RowsToEvents(rows)
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events, got %d", len(events))
	}
	if events[0].EventType != "a" || events[1].EventType != "b" {
		t.Fatalf("expected events sorted by ts, got %+v", events)
	}
}
