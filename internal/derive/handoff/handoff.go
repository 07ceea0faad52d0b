// Package handoff builds the bounded-size context package an LLM assistant
// consumes, shrinking through a sequence of smaller profiles until the
// serialized payload fits a byte budget, then scrubbing any residual PII-
// shaped strings as a last line of defense. Grounded on
// original_source/handoff.py.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"collector/internal/envelope"
	"collector/internal/privacy"
	"collector/internal/storage"
)

const (
	DefaultMaxSizeBytes       = 50 * 1024
	DefaultRecentSessions     = 3
	DefaultRecentRoutines     = 10
	DefaultMaxResources       = 10
	DefaultMaxEvidence        = 5
	DefaultRedactionScanLimit = 200
)

var (
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	pathRe       = regexp.MustCompile(`([A-Za-z]:\\|/Users/|/home/|\.xlsx|\.docx|\.pptx)`)
	longDigitsRe = regexp.MustCompile(`\b\d{12,}\b`)
	hex64Re      = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)
)

// Options bounds a handoff build, mirroring
// build_handoff_with_size_guard's keyword arguments.
type Options struct {
	MaxSizeBytes       int
	RecentSessions     int
	RecentRoutines     int
	MaxResources       int
	MaxEvidence        int
	RedactionScanLimit int
}

func DefaultOptions() Options {
	return Options{
		MaxSizeBytes:       DefaultMaxSizeBytes,
		RecentSessions:     DefaultRecentSessions,
		RecentRoutines:     DefaultRecentRoutines,
		MaxResources:       DefaultMaxResources,
		MaxEvidence:        DefaultMaxEvidence,
		RedactionScanLimit: DefaultRedactionScanLimit,
	}
}

// Payload is a built, size-measured handoff package.
type Payload struct {
	Data      map[string]any
	SizeBytes int
}

type profile struct {
	sessionsLimit  int
	routinesLimit  int
	resourcesLimit int
}

// BuildWithSizeGuard tries progressively smaller profiles (matching
// original_source/handoff.py's fixed profile ladder) until the serialized,
// scrubbed payload fits opts.MaxSizeBytes, falling back to the smallest
// profile's result if even that doesn't fit.
func BuildWithSizeGuard(ctx context.Context, store *storage.Store, rules *privacy.Rules, opts Options, now time.Time) (Payload, error) {
	packageID := uuid.NewString()
	createdAt := envelope.FormatTimestamp(now)

	profiles := []profile{
		{opts.RecentSessions, opts.RecentRoutines, opts.MaxResources},
		{min(2, opts.RecentSessions), opts.RecentRoutines, opts.MaxResources},
		{1, min(5, opts.RecentRoutines), min(5, opts.MaxResources)},
		{1, min(3, opts.RecentRoutines), min(3, opts.MaxResources)},
		{1, 1, 1},
	}

	var last Payload
	for _, p := range profiles {
		data, err := buildPayload(ctx, store, rules, packageID, createdAt, p, opts.MaxEvidence, opts.RedactionScanLimit, now)
		if err != nil {
			return Payload{}, err
		}
		scrubbed := scrubValue(data).(map[string]any)
		size, err := payloadSize(scrubbed)
		if err != nil {
			return Payload{}, err
		}
		last = Payload{Data: scrubbed, SizeBytes: size}
		if size <= opts.MaxSizeBytes {
			return last, nil
		}
	}
	return last, nil
}

func buildPayload(ctx context.Context, store *storage.Store, rules *privacy.Rules, packageID, createdAt string, p profile, maxEvidence, redactionScanLimit int, now time.Time) (map[string]any, error) {
	deviceContext, lastEventTS, err := deviceContext(ctx, store, rules)
	if err != nil {
		return nil, err
	}
	sessions, err := recentSessions(ctx, store, p.sessionsLimit, p.resourcesLimit)
	if err != nil {
		return nil, err
	}
	routines, err := routineCandidates(ctx, store, p.routinesLimit, maxEvidence)
	if err != nil {
		return nil, err
	}
	signals, err := buildSignals(ctx, store, lastEventTS, now)
	if err != nil {
		return nil, err
	}
	privacyState, err := privacyState(ctx, store, rules, redactionScanLimit)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"package_id":         packageID,
		"created_at":         createdAt,
		"version":            "1.0",
		"device_context":     deviceContext,
		"recent_sessions":    sessions,
		"routine_candidates": routines,
		"signals":            signals,
		"privacy_state":      privacyState,
	}, nil
}

func deviceContext(ctx context.Context, store *storage.Store, rules *privacy.Rules) (map[string]any, string, error) {
	latest, err := store.FetchLatestEvent(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetching latest event: %w", err)
	}
	if latest == nil {
		return map[string]any{
			"active_app": nil, "active_window_hint": nil, "last_event_ts": nil,
		}, "", nil
	}

	payload := safeJSONMap(latest.PayloadJSON)
	var windowHint any
	if title, ok := payload["window_title"]; ok && title != nil {
		windowHint = sanitizeHint(fmt.Sprintf("%v", title), rules)
	}
	return map[string]any{
		"active_app":         latest.App,
		"active_window_hint": windowHint,
		"last_event_ts":      latest.TS,
		"last_event_type":    latest.EventType,
	}, latest.TS, nil
}

func buildSignals(ctx context.Context, store *storage.Store, lastEventTS string, now time.Time) (map[string]any, error) {
	since := envelope.FormatTimestamp(now.Add(-5 * time.Minute))
	p0Recent, err := store.HasRecentP0(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("checking recent P0: %w", err)
	}

	var idleState any
	if lastEventTS != "" {
		latest, err := store.FetchLatestEvent(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching latest event for idle state: %w", err)
		}
		if latest != nil {
			switch strings.ToLower(latest.EventType) {
			case "os.idle_start":
				idleState = true
			case "os.idle_end":
				idleState = false
			}
		}
	}
	return map[string]any{"p0_recent": p0Recent, "idle_state": idleState}, nil
}

func privacyState(ctx context.Context, store *storage.Store, rules *privacy.Rules, redactionScanLimit int) (map[string]any, error) {
	rows, err := store.FetchRecentPrivacy(ctx, redactionScanLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching recent privacy rows: %w", err)
	}
	return map[string]any{
		"content_collection": false,
		"denylist_active":    len(rules.DenylistApps) > 0,
		"redaction_summary":  redactionSummary(rows),
	}, nil
}

func recentSessions(ctx context.Context, store *storage.Store, limit, maxResources int) ([]map[string]any, error) {
	rows, err := store.FetchRecentSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching recent sessions: %w", err)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		summary := safeJSONMap(row.SummaryJSON)
		resources, _ := summary["resources"].([]any)
		if len(resources) > maxResources {
			resources = resources[:maxResources]
		}
		out = append(out, map[string]any{
			"session_id":    row.SessionID,
			"start_ts":      row.StartTS,
			"end_ts":        row.EndTS,
			"duration_sec":  row.DurationSec,
			"apps_timeline": orEmptyList(summary["apps_timeline"]),
			"key_events":    orEmptyList(summary["key_events"]),
			"resources":     orEmptyList(resources),
			"counts":        orEmptyMap(summary["counts"]),
		})
	}
	return out, nil
}

func routineCandidates(ctx context.Context, store *storage.Store, limit, maxEvidence int) ([]map[string]any, error) {
	rows, err := store.FetchRoutineCandidates(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching routine candidates: %w", err)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		pattern := safeJSONMap(row.PatternJSON)
		evidence := safeJSONList(row.EvidenceSessionIDs)
		if maxEvidence > 0 && len(evidence) > maxEvidence {
			evidence = evidence[:maxEvidence]
		}
		out = append(out, map[string]any{
			"pattern_id":           row.PatternID,
			"pattern":              pattern,
			"support":              row.Support,
			"confidence":           row.Confidence,
			"last_seen_ts":         row.LastSeenTS,
			"evidence_session_ids": evidence,
		})
	}
	return out, nil
}

func redactionSummary(rows []string) map[string]any {
	counts := map[string]int{}
	order := []string{}
	total := 0
	for _, raw := range rows {
		data := safeJSONMap(raw)
		redaction, _ := data["redaction"].([]any)
		for _, item := range redaction {
			s := fmt.Sprintf("%v", item)
			if s == "" {
				continue
			}
			if counts[s] == 0 {
				order = append(order, s)
			}
			counts[s]++
			total++
		}
	}
	top := topN(order, counts, 10)
	return map[string]any{"total": total, "items": top}
}

func topN(order []string, counts map[string]int, n int) map[string]int {
	type kv struct {
		key   string
		count int
	}
	kvs := make([]kv, 0, len(order))
	for _, k := range order {
		kvs = append(kvs, kv{k, counts[k]})
	}
	// stable sort by count descending, ties keep first-seen order
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && kvs[j].count > kvs[j-1].count; j-- {
			kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
		}
	}
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make(map[string]int, len(kvs))
	for _, item := range kvs {
		out[item.key] = item.count
	}
	return out
}

func sanitizeHint(value string, rules *privacy.Rules) string {
	masked := privacy.MaskPatterns(value, rules.RedactionPatterns)
	maxLen := 64
	if v, ok := rules.LengthLimits["window_title"]; ok && v > 0 {
		maxLen = v
	}
	masked = privacy.Truncate(masked, maxLen)
	return scrubString(masked)
}

// scrubValue recursively replaces any string matching an email, filesystem
// path, or long-digit-run pattern with "[REDACTED]", a final defense-in-
// depth pass after the structured scrub already applied upstream.
func scrubValue(value any) any {
	switch t := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = scrubValue(v)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, v := range t {
			out[i] = scrubValue(v).(map[string]any)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = scrubValue(v)
		}
		return out
	case string:
		return scrubString(t)
	default:
		return value
	}
}

func scrubString(value string) string {
	if hex64Re.MatchString(value) {
		return value
	}
	if emailRe.MatchString(value) || pathRe.MatchString(value) || longDigitsRe.MatchString(value) {
		return "[REDACTED]"
	}
	return value
}

func payloadSize(payload map[string]any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling handoff payload: %w", err)
	}
	return len(data), nil
}

func safeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func safeJSONList(raw string) []any {
	if raw == "" {
		return []any{}
	}
	var l []any
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return []any{}
	}
	return l
}

func orEmptyList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}

func orEmptyMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
