package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"collector/internal/envelope"
	"collector/internal/storage"
)

// PatternOptions bounds a pattern-summary build.
type PatternOptions struct {
	SinceDays   int
	TopHours    int
	MaxRoutines int
	StoreDB     bool
}

func DefaultPatternOptions() PatternOptions {
	return PatternOptions{SinceDays: 7, TopHours: 12, MaxRoutines: 10}
}

type hourPattern struct {
	Hour       string  `json:"hour"`
	App        string  `json:"app"`
	Days       int     `json:"days"`
	Minutes    int64   `json:"minutes"`
	Confidence float64 `json:"confidence"`
}

type routineDigestEntry struct {
	PatternID  string   `json:"pattern_id"`
	Events     []string `json:"events"`
	Support    int64    `json:"support"`
	Confidence float64  `json:"confidence"`
	LastSeenTS string   `json:"last_seen_ts"`
}

// PatternSummary is the ranked digest over recent daily summaries and mined
// routine candidates, serialized to pattern_summaries.payload_json.
type PatternSummary struct {
	GeneratedAt   string               `json:"generated_at"`
	WindowDays    int                  `json:"window_days"`
	Patterns      []hourPattern        `json:"patterns"`
	TopApps       []appUsage           `json:"top_apps"`
	RoutineDigest []routineDigestEntry `json:"routine_digest"`
	SummaryCount  int                  `json:"summary_count"`
}

// BuildPattern aggregates recent daily_summaries rows into hourly usage
// patterns (the winning app per hour, how many of the recent days it won,
// and a confidence blending day-coverage with minutes spent) plus a ranked
// digest of the current routine_candidates, per
// original_source/scripts/build_pattern_summary.py.
func BuildPattern(ctx context.Context, store *storage.Store, opts PatternOptions, now time.Time) (PatternSummary, error) {
	sinceDays := opts.SinceDays
	if sinceDays < 1 {
		sinceDays = 1
	}
	cutoffDate := now.AddDate(0, 0, -sinceDays).Format("2006-01-02")

	rows, err := store.FetchRecentDailySummaries(ctx, cutoffDate)
	if err != nil {
		return PatternSummary{}, fmt.Errorf("fetching recent daily summaries: %w", err)
	}

	hourlyVotes := map[string]map[string]int{}
	hourlyMinutes := map[string]map[string]int64{}
	appTotals := map[string]int64{}

	summaryCount := 0
	for _, row := range rows {
		var daily DailySummary
		if err := json.Unmarshal([]byte(row.PayloadJSON), &daily); err != nil {
			continue
		}
		summaryCount++
		for hour, items := range daily.HourlyUsage {
			if len(items) == 0 {
				continue
			}
			topApp := items[0].App
			if hourlyVotes[hour] == nil {
				hourlyVotes[hour] = map[string]int{}
				hourlyMinutes[hour] = map[string]int64{}
			}
			hourlyVotes[hour][topApp]++
			for _, item := range items {
				hourlyMinutes[hour][item.App] += item.Seconds
			}
		}
		for _, item := range daily.TopApps {
			appTotals[item.App] += item.Seconds
		}
	}

	patterns := make([]hourPattern, 0, len(hourlyVotes))
	hours := make([]string, 0, len(hourlyVotes))
	for hour := range hourlyVotes {
		hours = append(hours, hour)
	}
	sort.Strings(hours)
	for _, hour := range hours {
		winner, days := topVote(hourlyVotes[hour])
		minutes := hourlyMinutes[hour][winner] / 60
		patterns = append(patterns, hourPattern{
			Hour:       hour,
			App:        winner,
			Days:       days,
			Minutes:    minutes,
			Confidence: patternConfidence(days, summaryCount, minutes),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Days != patterns[j].Days {
			return patterns[i].Days > patterns[j].Days
		}
		return patterns[i].Minutes > patterns[j].Minutes
	})
	if opts.TopHours > 0 && len(patterns) > opts.TopHours {
		patterns = patterns[:opts.TopHours]
	}

	topApps := make([]appUsage, 0, len(appTotals))
	for app, sec := range appTotals {
		topApps = append(topApps, appUsage{App: app, Minutes: sec / 60, Seconds: sec})
	}
	sort.Slice(topApps, func(i, j int) bool {
		if topApps[i].Seconds != topApps[j].Seconds {
			return topApps[i].Seconds > topApps[j].Seconds
		}
		return topApps[i].App < topApps[j].App
	})
	if len(topApps) > 10 {
		topApps = topApps[:10]
	}

	routines, err := store.FetchRoutineCandidates(ctx, opts.MaxRoutines)
	if err != nil {
		return PatternSummary{}, fmt.Errorf("fetching routine candidates for pattern digest: %w", err)
	}
	digest := make([]routineDigestEntry, 0, len(routines))
	for _, r := range routines {
		var pattern struct {
			Events []string `json:"events"`
		}
		_ = json.Unmarshal([]byte(r.PatternJSON), &pattern)
		digest = append(digest, routineDigestEntry{
			PatternID:  r.PatternID,
			Events:     pattern.Events,
			Support:    r.Support,
			Confidence: r.Confidence,
			LastSeenTS: r.LastSeenTS,
		})
	}

	summary := PatternSummary{
		GeneratedAt:   envelope.FormatTimestamp(now),
		WindowDays:    sinceDays,
		Patterns:      patterns,
		TopApps:       topApps,
		RoutineDigest: digest,
		SummaryCount:  summaryCount,
	}

	if opts.StoreDB {
		payloadJSON, err := json.Marshal(summary)
		if err != nil {
			return PatternSummary{}, fmt.Errorf("marshaling pattern summary: %w", err)
		}
		if err := store.InsertPatternSummary(ctx, summary.GeneratedAt, summary.WindowDays, string(payloadJSON)); err != nil {
			return PatternSummary{}, fmt.Errorf("storing pattern summary: %w", err)
		}
	}

	return summary, nil
}

func topVote(votes map[string]int) (string, int) {
	var winner string
	best := -1
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if votes[k] > best {
			best = votes[k]
			winner = k
		}
	}
	return winner, best
}

// patternConfidence blends how many of the recent days an app won the hour
// with how many minutes it captured, matching
// original_source/scripts/build_pattern_summary.py's _confidence.
func patternConfidence(days, totalDays int, minutes int64) float64 {
	if totalDays <= 0 {
		return 0
	}
	dayRatio := float64(days) / float64(maxInt(1, totalDays))
	if dayRatio > 1 {
		dayRatio = 1
	}
	minutesRatio := float64(minutes) / 30.0
	if minutesRatio > 1 {
		minutesRatio = 1
	}
	return round3(dayRatio*0.7 + minutesRatio*0.3)
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
