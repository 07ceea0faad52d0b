package summary

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"collector/internal/storage"
)

func seedDailySummary(t *testing.T, store *storage.Store, dateLocal string, hourlyTopApp string, minutes int64) {
	t.Helper()
	daily := DailySummary{
		DateLocal: dateLocal,
		HourlyUsage: map[string][]appUsage{
			"09": {{App: hourlyTopApp, Minutes: minutes, Seconds: minutes * 60}},
		},
		TopApps: []appUsage{{App: hourlyTopApp, Minutes: minutes, Seconds: minutes * 60}},
	}
	payload, err := json.Marshal(daily)
	if err != nil {
		t.Fatalf("marshaling seed daily summary: %v", err)
	}
	if err := store.UpsertDailySummary(context.Background(), dateLocal, dateLocal+"T00:00:00Z", dateLocal+"T23:59:59Z", string(payload), dateLocal+"T00:00:00Z"); err != nil {
		t.Fatalf("seeding daily summary: %v", err)
	}
}

func TestBuildPatternRanksWinningHourlyApp(t *testing.T) {
	store := openTestStore(t)
	seedDailySummary(t, store, "2026-01-01", "excel", 20)
	seedDailySummary(t, store, "2026-01-02", "excel", 15)
	seedDailySummary(t, store, "2026-01-03", "chrome", 10)

	now := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
	summary, err := BuildPattern(context.Background(), store, DefaultPatternOptions(), now)
	if err != nil {
		t.Fatalf("building pattern summary: %v", err)
	}
	if summary.SummaryCount != 3 {
		t.Fatalf("expected 3 summaries scanned, got %d", summary.SummaryCount)
	}
	if len(summary.Patterns) != 1 {
		t.Fatalf("expected 1 hourly pattern (hour 09), got %+v", summary.Patterns)
	}
	p := summary.Patterns[0]
	if p.Hour != "09" || p.App != "excel" || p.Days != 2 {
		t.Errorf("expected excel to win hour 09 on 2 of 3 days, got %+v", p)
	}
}

func TestBuildPatternIncludesRoutineDigest(t *testing.T) {
	store := openTestStore(t)
	patternJSON, _ := json.Marshal(map[string]any{"events": []string{"a", "b"}})
	if err := store.InsertRoutineCandidate(context.Background(), "pat-1", string(patternJSON), 4, 3.2, "2026-01-01T09:00:00Z", "[]"); err != nil {
		t.Fatalf("seeding routine candidate: %v", err)
	}

	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	summary, err := BuildPattern(context.Background(), store, DefaultPatternOptions(), now)
	if err != nil {
		t.Fatalf("building pattern summary: %v", err)
	}
	if len(summary.RoutineDigest) != 1 {
		t.Fatalf("expected 1 routine digest entry, got %+v", summary.RoutineDigest)
	}
	if summary.RoutineDigest[0].PatternID != "pat-1" || summary.RoutineDigest[0].Support != 4 {
		t.Errorf("unexpected digest entry: %+v", summary.RoutineDigest[0])
	}
}

func TestBuildPatternEmptyStoreReturnsZeroSummaries(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	summary, err := BuildPattern(context.Background(), store, DefaultPatternOptions(), now)
	if err != nil {
		t.Fatalf("building pattern summary: %v", err)
	}
	if summary.SummaryCount != 0 || len(summary.Patterns) != 0 {
		t.Fatalf("expected empty pattern summary, got %+v", summary)
	}
}

func TestPatternConfidenceBlendsDayAndMinuteRatio(t *testing.T) {
	got := patternConfidence(2, 2, 30)
	if got != 1.0 {
		t.Errorf("expected full confidence at 100%% days and >=30 minutes, got %f", got)
	}
	got = patternConfidence(0, 2, 0)
	if got != 0.0 {
		t.Errorf("expected zero confidence, got %f", got)
	}
}
