package handoff

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"collector/internal/envelope"
	"collector/internal/privacy"
	"collector/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.db")
	s, err := storage.Open(storage.Options{Path: path, WALMode: true, BusyTimeoutMS: 2000})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnvelope(ts, eventType, app string) envelope.Envelope {
	return envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		EventID:       "11111111-1111-4111-8111-111111111111",
		TS:            ts,
		Source:        "agent",
		App:           app,
		EventType:     eventType,
		Priority:      envelope.P1,
		Resource:      envelope.Resource{Type: "window", ID: "w1"},
		Payload: envelope.FromMap(map[string]envelope.Value{
			"window_title": envelope.FromString("quarterly-budget.xlsx - someone@example.com"),
		}),
		Raw: envelope.EmptyMap(),
	}
}

func emptyRules() *privacy.Rules {
	return &privacy.Rules{
		LengthLimits:      map[string]int{},
		RedactionPatterns: nil,
		DenylistApps:      map[string]bool{},
	}
}

func seedSession(t *testing.T, store *storage.Store, id, start, end string) {
	t.Helper()
	summary, err := json.Marshal(map[string]any{
		"apps_timeline": []map[string]any{{"app": "excel", "sec": 120}},
		"key_events":    []string{"excel.export_pdf"},
		"resources":     []map[string]any{{"type": "file", "id": "budget.xlsx"}},
		"counts":        map[string]int{"total": 1, "p0": 1, "p1": 0, "p2": 0},
	})
	if err != nil {
		t.Fatalf("marshaling summary: %v", err)
	}
	if err := store.InsertSession(context.Background(), id, start, end, 600, string(summary)); err != nil {
		t.Fatalf("inserting session: %v", err)
	}
}

func seedRoutine(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	patternJSON, err := json.Marshal(map[string]any{"type": "ngram", "events": []string{"excel.export_pdf"}, "n": 1})
	if err != nil {
		t.Fatalf("marshaling pattern: %v", err)
	}
	evidence, err := json.Marshal([]string{"s1"})
	if err != nil {
		t.Fatalf("marshaling evidence: %v", err)
	}
	if err := store.InsertRoutineCandidate(context.Background(), id, string(patternJSON), 3, 2.6, "2026-01-01T09:10:00Z", string(evidence)); err != nil {
		t.Fatalf("inserting routine candidate: %v", err)
	}
}

func TestBuildWithSizeGuardFitsFirstProfile(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.InsertEvents(ctx, []storage.EventRow{
		{Envelope: testEnvelope("2026-01-01T09:00:00Z", "os.foreground_changed", "excel")},
	}, storage.DefaultRetryPolicy()); err != nil {
		t.Fatalf("inserting event: %v", err)
	}
	seedSession(t, store, "sess-1", "2026-01-01T09:00:00Z", "2026-01-01T09:10:00Z")
	seedRoutine(t, store, "pat-1")

	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	payload, err := BuildWithSizeGuard(ctx, store, emptyRules(), DefaultOptions(), now)
	if err != nil {
		t.Fatalf("building handoff: %v", err)
	}
	if payload.SizeBytes == 0 {
		t.Fatal("expected a non-zero payload size")
	}
	if payload.Data["package_id"] == "" {
		t.Error("expected a package_id")
	}
	sessions, ok := payload.Data["recent_sessions"].([]map[string]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("expected 1 recent session, got %+v", payload.Data["recent_sessions"])
	}
	routines, ok := payload.Data["routine_candidates"].([]map[string]any)
	if !ok || len(routines) != 1 {
		t.Fatalf("expected 1 routine candidate, got %+v", payload.Data["routine_candidates"])
	}
}

func TestBuildWithSizeGuardScrubsWindowTitle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.InsertEvents(ctx, []storage.EventRow{
		{Envelope: testEnvelope("2026-01-01T09:00:00Z", "os.foreground_changed", "excel")},
	}, storage.DefaultRetryPolicy()); err != nil {
		t.Fatalf("inserting event: %v", err)
	}

	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	payload, err := BuildWithSizeGuard(ctx, store, emptyRules(), DefaultOptions(), now)
	if err != nil {
		t.Fatalf("building handoff: %v", err)
	}
	deviceContext, ok := payload.Data["device_context"].(map[string]any)
	if !ok {
		t.Fatalf("expected device_context map, got %+v", payload.Data["device_context"])
	}
	hint, _ := deviceContext["active_window_hint"].(string)
	if hint != "[REDACTED]" {
		t.Errorf("expected window hint containing an email to be redacted, got %q", hint)
	}
}

func TestBuildWithSizeGuardNoEventsProducesEmptyDeviceContext(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	payload, err := BuildWithSizeGuard(context.Background(), store, emptyRules(), DefaultOptions(), now)
	if err != nil {
		t.Fatalf("building handoff: %v", err)
	}
	deviceContext, ok := payload.Data["device_context"].(map[string]any)
	if !ok {
		t.Fatalf("expected device_context map, got %+v", payload.Data["device_context"])
	}
	if deviceContext["active_app"] != nil {
		t.Errorf("expected nil active_app with no events, got %v", deviceContext["active_app"])
	}
}

func TestBuildWithSizeGuardShrinksUnderTightBudget(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedSession(t, store, "sess-"+string(rune('a'+i)), "2026-01-01T09:00:00Z", "2026-01-01T09:10:00Z")
	}

	opts := DefaultOptions()
	opts.MaxSizeBytes = 1
	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	payload, err := BuildWithSizeGuard(ctx, store, emptyRules(), opts, now)
	if err != nil {
		t.Fatalf("building handoff: %v", err)
	}
	sessions, ok := payload.Data["recent_sessions"].([]map[string]any)
	if !ok {
		t.Fatalf("expected recent_sessions, got %+v", payload.Data["recent_sessions"])
	}
	if len(sessions) != 1 {
		t.Fatalf("expected the smallest profile (1 session) when nothing fits the budget, got %d", len(sessions))
	}
}

func TestScrubStringAllowsHexHashes(t *testing.T) {
	hash := "4a1f2e9b6c3d8a07e5f4b2c1d0a9e8f7c6b5a4938271605f4e3d2c1b0a9f8e7d"
	if got := scrubString(hash); got != hash {
		t.Errorf("expected a 64-char hex hash to pass through unmodified, got %q", got)
	}
}

func TestScrubStringRedactsEmailAndLongDigits(t *testing.T) {
	if got := scrubString("reach me at person@example.com"); got != "[REDACTED]" {
		t.Errorf("expected email to be redacted, got %q", got)
	}
	if got := scrubString("account 123456789012"); got != "[REDACTED]" {
		t.Errorf("expected long digit run to be redacted, got %q", got)
	}
	if got := scrubString("excel"); got != "excel" {
		t.Errorf("expected plain string to pass through, got %q", got)
	}
}
