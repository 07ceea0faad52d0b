// Package summary builds the daily and pattern digests consumed by
// reporting and handoff: local-date bucketed activity aggregation and a
// ranked digest over mined routine candidates, grounded on
// original_source/scripts/build_daily_summary.py and
// original_source/scripts/build_pattern_summary.py.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"collector/internal/envelope"
	"collector/internal/storage"
)

// DailyOptions bounds a daily-summary build.
type DailyOptions struct {
	TopApps   int
	TopTitles int
	TopHourly int
	P0Types   []string
	P1Types   []string
	StoreDB   bool
}

func DefaultDailyOptions() DailyOptions {
	return DailyOptions{TopApps: 10, TopTitles: 10, TopHourly: 3}
}

type window struct {
	StartLocal string `json:"start_local"`
	EndLocal   string `json:"end_local"`
	StartUTC   string `json:"start_utc"`
	EndUTC     string `json:"end_utc"`
}

type counts struct {
	EventsTotal int `json:"events_total"`
	FocusBlocks int `json:"focus_blocks"`
	IdleStart   int `json:"idle_start"`
	IdleEnd     int `json:"idle_end"`
}

type appUsage struct {
	App     string `json:"app"`
	Minutes int64  `json:"minutes"`
	Seconds int64  `json:"seconds"`
}

type transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

type durationStats struct {
	Count     int   `json:"count"`
	AvgSec    int64 `json:"avg_sec"`
	MedianSec int64 `json:"median_sec"`
	P90Sec    int64 `json:"p90_sec"`
}

type titleUsage struct {
	App       string `json:"app"`
	TitleHint string `json:"title_hint"`
	Minutes   int64  `json:"minutes"`
	Seconds   int64  `json:"seconds"`
}

// DailySummary is the local-date activity digest, serialized to
// daily_summaries.payload_json.
type DailySummary struct {
	DateLocal       string                `json:"date_local"`
	Window          window                `json:"window"`
	Counts          counts                `json:"counts"`
	TopApps         []appUsage            `json:"top_apps"`
	HourlyUsage     map[string][]appUsage `json:"hourly_usage"`
	KeyEvents       map[string]int        `json:"key_events"`
	FocusBlockStats durationStats         `json:"focus_block_stats"`
	AppSwitches     int                   `json:"app_switches"`
	TopTransitions  []transition          `json:"top_transitions"`
	TimeBuckets     map[string][]appUsage `json:"time_buckets"`
	TopTitles       []titleUsage          `json:"top_titles"`
}

// BuildDaily aggregates a single local date's events into a DailySummary,
// optionally persisting it via Store.UpsertDailySummary.
func BuildDaily(ctx context.Context, store *storage.Store, date time.Time, loc *time.Location, opts DailyOptions, now time.Time) (DailySummary, error) {
	if loc == nil {
		loc = time.UTC
	}
	startLocal := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	endLocal := startLocal.AddDate(0, 0, 1).Add(-time.Second)
	startUTC := startLocal.UTC()
	endUTC := endLocal.UTC()

	startTS := envelope.FormatTimestamp(startUTC)
	endTS := envelope.FormatTimestamp(endUTC)

	events, err := store.FetchEvents(ctx, startTS, endTS)
	if err != nil {
		return DailySummary{}, fmt.Errorf("fetching events for daily summary: %w", err)
	}

	p0Set := lowerSet(opts.P0Types)
	p1Set := lowerSet(opts.P1Types)

	apps := map[string]int64{}
	hourly := map[int]map[string]int64{}
	bucketUsage := map[string]map[string]int64{}
	keyEvents := map[string]int{}
	idleStart, idleEnd, focusBlocks := 0, 0, 0
	var focusDurations []int64
	transitions := map[[2]string]int{}
	lastApp := ""

	for _, e := range events {
		ts, err := envelope.ParseTimestamp(e.TS)
		if err != nil {
			continue
		}
		tsLocal := ts.In(loc)
		hour := tsLocal.Hour()
		eventType := strings.ToLower(e.EventType)

		switch eventType {
		case "os.idle_start":
			idleStart++
		case "os.idle_end":
			idleEnd++
		}
		if eventType == "os.app_focus_block" {
			focusBlocks++
		}
		if p0Set[eventType] || p1Set[eventType] {
			keyEvents[eventType]++
		}

		if eventType == "os.app_focus_block" {
			duration := durationSecFromPayload(e.PayloadJSON)
			appKey := e.App
			if appKey == "" {
				appKey = "UNKNOWN"
			}
			apps[appKey] += duration
			if hourly[hour] == nil {
				hourly[hour] = map[string]int64{}
			}
			hourly[hour][appKey] += duration
			if bucket := bucketForHour(hour); bucket != "" {
				if bucketUsage[bucket] == nil {
					bucketUsage[bucket] = map[string]int64{}
				}
				bucketUsage[bucket][appKey] += duration
			}
			focusDurations = append(focusDurations, duration)
			if lastApp != "" && lastApp != appKey {
				transitions[[2]string{lastApp, appKey}]++
			}
			lastApp = appKey
		}
	}

	summary := DailySummary{
		DateLocal: date.Format("2006-01-02"),
		Window: window{
			StartLocal: startLocal.Format("2006-01-02 15:04:05"),
			EndLocal:   endLocal.Format("2006-01-02 15:04:05"),
			StartUTC:   startTS,
			EndUTC:     endTS,
		},
		Counts: counts{
			EventsTotal: len(events),
			FocusBlocks: focusBlocks,
			IdleStart:   idleStart,
			IdleEnd:     idleEnd,
		},
		TopApps:         topAppUsage(apps, opts.TopApps),
		HourlyUsage:     map[string][]appUsage{},
		KeyEvents:       keyEvents,
		FocusBlockStats: summarizeDurations(focusDurations),
		AppSwitches:     sumCounts(transitions),
		TopTransitions:  topTransitions(transitions, 10),
		TimeBuckets:     map[string][]appUsage{},
	}

	for hour := 0; hour < 24; hour++ {
		byApp, ok := hourly[hour]
		if !ok {
			continue
		}
		summary.HourlyUsage[fmt.Sprintf("%02d", hour)] = topAppUsage(byApp, opts.TopHourly)
	}
	for bucket, byApp := range bucketUsage {
		summary.TimeBuckets[bucket] = topAppUsage(byApp, opts.TopHourly)
	}

	titles, err := store.FetchActivityDetails(ctx, startTS, endTS)
	if err != nil {
		return DailySummary{}, fmt.Errorf("fetching activity details for daily summary: %w", err)
	}
	summary.TopTitles = topTitleUsage(titles, opts.TopTitles)

	if opts.StoreDB {
		payloadJSON, err := json.Marshal(summary)
		if err != nil {
			return DailySummary{}, fmt.Errorf("marshaling daily summary: %w", err)
		}
		createdAt := envelope.FormatTimestamp(now)
		if err := store.UpsertDailySummary(ctx, summary.DateLocal, summary.Window.StartUTC, summary.Window.EndUTC, string(payloadJSON), createdAt); err != nil {
			return DailySummary{}, fmt.Errorf("storing daily summary: %w", err)
		}
	}

	return summary, nil
}

func bucketForHour(hour int) string {
	switch {
	case hour >= 0 && hour < 6:
		return "night"
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 24:
		return "evening"
	default:
		return ""
	}
}

// summarizeDurations mirrors original_source/scripts/build_daily_summary.py's
// _summarize_durations: count, mean, median, and p90 over non-negative
// clamped duration samples.
func summarizeDurations(durations []int64) durationStats {
	if len(durations) == 0 {
		return durationStats{}
	}
	values := make([]int64, len(durations))
	var sum int64
	for i, d := range durations {
		if d < 0 {
			d = 0
		}
		values[i] = d
		sum += d
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	count := len(values)
	avg := sum / int64(count)
	median := values[count/2]
	p90Index := count - 1
	if idx := int(float64(count) * 0.9); idx < p90Index {
		p90Index = idx
	}
	return durationStats{Count: count, AvgSec: avg, MedianSec: median, P90Sec: values[p90Index]}
}

func topAppUsage(byApp map[string]int64, limit int) []appUsage {
	out := make([]appUsage, 0, len(byApp))
	for app, sec := range byApp {
		out = append(out, appUsage{App: app, Minutes: sec / 60, Seconds: sec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].App < out[j].App
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topTransitions(transitions map[[2]string]int, limit int) []transition {
	out := make([]transition, 0, len(transitions))
	for pair, count := range transitions {
		out = append(out, transition{From: pair[0], To: pair[1], Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topTitleUsage(rows []storage.ActivityDetailRecord, limit int) []titleUsage {
	type key struct{ app, title string }
	totals := map[key]int64{}
	order := []key{}
	for _, r := range rows {
		if r.TitleHint == "" {
			continue
		}
		app := r.App
		if app == "" {
			app = "UNKNOWN"
		}
		k := key{app, r.TitleHint}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] += r.TotalDurationSec
	}
	out := make([]titleUsage, 0, len(order))
	for _, k := range order {
		sec := totals[k]
		out = append(out, titleUsage{App: k.app, TitleHint: k.title, Minutes: sec / 60, Seconds: sec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].App < out[j].App
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sumCounts(transitions map[[2]string]int) int {
	total := 0
	for _, c := range transitions {
		total += c
	}
	return total
}

func durationSecFromPayload(raw string) int64 {
	if raw == "" {
		return 0
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0
	}
	v, ok := payload["duration_sec"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func lowerSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = true
	}
	return out
}
