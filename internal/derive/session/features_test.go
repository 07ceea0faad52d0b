package session

import (
	"testing"
	"time"

	"collector/internal/envelope"
)

func mkFeatureEvent(ts, eventType, priority, app, resourceType, resourceID string, payload envelope.Value) Event {
	parsed, _ := time.Parse(time.RFC3339, ts)
	return Event{
		TS: parsed, EventType: eventType, Priority: priority, App: app,
		ResourceType: resourceType, ResourceID: resourceID, Payload: payload,
	}
}

func TestBuildSummaryAppsTimelineAccumulatesAndSorts(t *testing.T) {
	events := []Event{
		mkFeatureEvent("2026-01-01T09:00:00Z", "os.app_focus_block", "P1", "chrome", "", "", envelope.FromMap(map[string]envelope.Value{
			"duration_sec": envelope.FromNumber(100),
		})),
		mkFeatureEvent("2026-01-01T09:05:00Z", "os.app_focus_block", "P1", "excel", "", "", envelope.FromMap(map[string]envelope.Value{
			"duration_sec": envelope.FromNumber(500),
		})),
		mkFeatureEvent("2026-01-01T09:10:00Z", "os.app_focus_block", "P1", "chrome", "", "", envelope.FromMap(map[string]envelope.Value{
			"duration_sec": envelope.FromNumber(50),
		})),
	}
	summary := BuildSummary(events)
	if len(summary.AppsTimeline) != 2 {
		t.Fatalf("expected 2 distinct apps, got %+v", summary.AppsTimeline)
	}
	if summary.AppsTimeline[0].App != "excel" || summary.AppsTimeline[0].Sec != 500 {
		t.Errorf("expected excel first with 500s, got %+v", summary.AppsTimeline[0])
	}
	if summary.AppsTimeline[1].App != "chrome" || summary.AppsTimeline[1].Sec != 150 {
		t.Errorf("expected chrome accumulated to 150s, got %+v", summary.AppsTimeline[1])
	}
}

func TestBuildSummaryKeyEventsDedupesAndIncludesP0(t *testing.T) {
	events := []Event{
		mkFeatureEvent("2026-01-01T09:00:00Z", "outlook.compose_started", "P1", "outlook", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:01:00Z", "outlook.compose_started", "P1", "outlook", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:02:00Z", "excel.export_pdf", "P0", "excel", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:03:00Z", "os.foreground_changed", "P2", "chrome", "", "", envelope.Null()),
	}
	summary := BuildSummary(events)
	if len(summary.KeyEvents) != 2 {
		t.Fatalf("expected 2 deduped key events, got %+v", summary.KeyEvents)
	}
	if summary.KeyEvents[0] != "outlook.compose_started" || summary.KeyEvents[1] != "excel.export_pdf" {
		t.Fatalf("unexpected key event order: %+v", summary.KeyEvents)
	}
}

func TestBuildSummaryResourcesCapsAtMax(t *testing.T) {
	events := make([]Event, 0, 25)
	for i := 0; i < 25; i++ {
		events = append(events, mkFeatureEvent("2026-01-01T09:00:00Z", "os.file_opened", "P1", "excel",
			"file", string(rune('a'+i)), envelope.Null()))
	}
	summary := BuildSummary(events)
	if len(summary.Resources) != MaxResources {
		t.Fatalf("expected resources capped at %d, got %d", MaxResources, len(summary.Resources))
	}
}

func TestBuildSummaryCounts(t *testing.T) {
	events := []Event{
		mkFeatureEvent("2026-01-01T09:00:00Z", "a", "P0", "", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:01:00Z", "b", "P1", "", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:02:00Z", "c", "P2", "", "", "", envelope.Null()),
		mkFeatureEvent("2026-01-01T09:03:00Z", "d", "P2", "", "", "", envelope.Null()),
	}
	summary := BuildSummary(events)
	if summary.Counts != (Counts{Total: 4, P0: 1, P1: 1, P2: 2}) {
		t.Fatalf("unexpected counts: %+v", summary.Counts)
	}
}
