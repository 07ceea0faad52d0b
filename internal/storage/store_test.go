package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"collector/internal/cryptoutil"
	"collector/internal/envelope"
)

func testCipher(t *testing.T) *cryptoutil.Cipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := cryptoutil.NewCipher(key)
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}
	return c
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.db")
	s, err := Open(Options{Path: path, WALMode: true, BusyTimeoutMS: 2000})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnvelope(ts, eventType string) envelope.Envelope {
	return envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		EventID:       "11111111-1111-4111-8111-111111111111",
		TS:            ts,
		Source:        "agent",
		App:           "TestApp",
		EventType:     eventType,
		Priority:      envelope.P1,
		Resource:      envelope.Resource{Type: "window", ID: "w1"},
		Payload:       envelope.EmptyMap(),
		Raw:           envelope.EmptyMap(),
	}
}

func TestInsertAndFetchEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []EventRow{
		{Envelope: testEnvelope("2026-01-01T00:00:00Z", "os.foreground_changed")},
		{Envelope: testEnvelope("2026-01-01T00:00:05Z", "os.window_title_changed")},
	}
	if err := s.InsertEvents(ctx, rows, DefaultRetryPolicy()); err != nil {
		t.Fatalf("inserting events: %v", err)
	}

	fetched, err := s.FetchEvents(ctx, "", "")
	if err != nil {
		t.Fatalf("fetching events: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("expected 2 events, got %d", len(fetched))
	}
	if fetched[0].TS != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected events ordered by ts ASC, got %s first", fetched[0].TS)
	}

	latest, err := s.FetchLatestEvent(ctx)
	if err != nil {
		t.Fatalf("fetching latest event: %v", err)
	}
	if latest == nil || latest.TS != "2026-01-01T00:00:05Z" {
		t.Fatalf("expected latest event at 00:05, got %+v", latest)
	}
}

func TestInsertEventsEncryptsRawJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.db")
	cipher := testCipher(t)
	s, err := Open(Options{Path: path, WALMode: true, BusyTimeoutMS: 2000, Cipher: cipher})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()

	env := testEnvelope("2026-01-01T00:00:00Z", "os.foreground_changed")
	env.Raw = envelope.FromMap(map[string]envelope.Value{"secret": envelope.FromString("do-not-leak")})
	if err := s.InsertEvents(context.Background(), []EventRow{{Envelope: env}}, DefaultRetryPolicy()); err != nil {
		t.Fatalf("inserting events: %v", err)
	}

	var rawJSON string
	row := s.db.QueryRow("SELECT raw_json FROM events LIMIT 1")
	if err := row.Scan(&rawJSON); err != nil {
		t.Fatalf("scanning raw_json: %v", err)
	}
	if containsPlaintext(rawJSON, "do-not-leak") {
		t.Fatalf("expected raw_json to be encrypted, found plaintext secret: %s", rawJSON)
	}
}

func TestUpsertActivityDetailsAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := ActivityDetailRow{
		App: "Editor", TitleHash: "h1", TitleHint: "main.go",
		FirstSeenTS: "2026-01-01T00:00:00Z", LastSeenTS: "2026-01-01T00:00:10Z", TotalDurationSec: 10,
	}
	if err := s.UpsertActivityDetails(ctx, []ActivityDetailRow{row}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	row.LastSeenTS = "2026-01-01T00:00:20Z"
	row.TotalDurationSec = 5
	row.TitleHint = "ignored.go"
	if err := s.UpsertActivityDetails(ctx, []ActivityDetailRow{row}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var titleHint string
	var totalDuration int64
	var blocks int64
	r := s.db.QueryRow("SELECT title_hint, total_duration_sec, blocks FROM activity_details WHERE app = ? AND title_hash = ?", "Editor", "h1")
	if err := r.Scan(&titleHint, &totalDuration, &blocks); err != nil {
		t.Fatalf("scanning activity_details: %v", err)
	}
	if titleHint != "main.go" {
		t.Fatalf("expected title_hint to stick to the first non-empty value, got %q", titleHint)
	}
	if totalDuration != 15 {
		t.Fatalf("expected accumulated duration 15, got %d", totalDuration)
	}
	if blocks != 2 {
		t.Fatalf("expected blocks incremented to 2, got %d", blocks)
	}
}

func TestRetentionDeletesOldRowsAndVacuums(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testEnvelope("2020-01-01T00:00:00Z", "os.foreground_changed")
	recent := testEnvelope("2026-01-01T00:00:00Z", "os.foreground_changed")
	if err := s.InsertEvents(ctx, []EventRow{{Envelope: old}, {Envelope: recent}}, DefaultRetryPolicy()); err != nil {
		t.Fatalf("inserting events: %v", err)
	}

	policy := RetentionPolicy{RawEventsDays: 30, BatchSize: 500, MaxDBMB: 0}
	result, err := RunRetention(ctx, s, policy, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), true)
	if err != nil {
		t.Fatalf("running retention: %v", err)
	}
	if result.DeletedEvents != 1 {
		t.Fatalf("expected exactly 1 stale event deleted, got %d", result.DeletedEvents)
	}
	if !result.Vacuumed {
		t.Fatalf("expected forced vacuum to run")
	}

	remaining, err := s.FetchEvents(ctx, "", "")
	if err != nil {
		t.Fatalf("fetching events: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TS != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected only the recent event to survive retention, got %+v", remaining)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if v, err := s.GetState(ctx, "last_sessionized_ts"); err != nil || v != "" {
		t.Fatalf("expected empty state before first write, got %q err %v", v, err)
	}
	if err := s.SetState(ctx, "last_sessionized_ts", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("setting state: %v", err)
	}
	v, err := s.GetState(ctx, "last_sessionized_ts")
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	if v != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected stored watermark back, got %q", v)
	}
}

func TestHandoffLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueHandoff(ctx, "pkg-1", "2026-01-01T00:00:00Z", "pending", `{"a":1}`, 8, "", ""); err != nil {
		t.Fatalf("enqueueing handoff: %v", err)
	}
	latest, err := s.FetchLatestHandoff(ctx, "pending")
	if err != nil {
		t.Fatalf("fetching latest handoff: %v", err)
	}
	if latest == nil || latest.PayloadJSON != `{"a":1}` {
		t.Fatalf("expected pending package back, got %+v", latest)
	}
	if err := s.MarkHandoffStatus(ctx, latest.ID, "delivered", ""); err != nil {
		t.Fatalf("marking handoff status: %v", err)
	}
	afterMark, err := s.FetchLatestHandoff(ctx, "pending")
	if err != nil {
		t.Fatalf("fetching after mark: %v", err)
	}
	if afterMark != nil {
		t.Fatalf("expected no pending package left, got %+v", afterMark)
	}
}

func containsPlaintext(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
