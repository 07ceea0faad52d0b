package session

import (
	"sort"
	"strings"

	"collector/internal/envelope"
)

// MaxResources caps the distinct resources recorded per session summary.
const MaxResources = 20

// DefaultKeyP1Types is the curated set of "key" P1 event types always
// surfaced in a session's key_events list, per spec.md §9 Open Question (b)
// this set is configurable rather than hardcoded.
var DefaultKeyP1Types = []string{
	"outlook.compose_started",
	"outlook.attachment_added_meta",
	"excel.refresh_pivot",
}

// Summary is the JSON shape stored in sessions.summary_json, grounded on
// original_source/features.py's build_session_summary.
type Summary struct {
	AppsTimeline []AppDuration `json:"apps_timeline"`
	KeyEvents    []string      `json:"key_events"`
	Resources    []Resource    `json:"resources"`
	Counts       Counts        `json:"counts"`
}

type AppDuration struct {
	App string `json:"app"`
	Sec int64  `json:"sec"`
}

type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Counts struct {
	Total int `json:"total"`
	P0    int `json:"p0"`
	P1    int `json:"p1"`
	P2    int `json:"p2"`
}

// BuildSummary is BuildSummaryWithKeyTypes using DefaultKeyP1Types.
func BuildSummary(events []Event) Summary {
	return BuildSummaryWithKeyTypes(events, DefaultKeyP1Types)
}

// BuildSummaryWithKeyTypes builds a session summary, letting callers
// configure which P1 event types always count as "key events".
func BuildSummaryWithKeyTypes(events []Event, keyP1Types []string) Summary {
	return Summary{
		AppsTimeline: appsTimeline(events),
		KeyEvents:    keyEvents(events, keyP1Types),
		Resources:    resources(events),
		Counts:       counts(events),
	}
}

func appsTimeline(events []Event) []AppDuration {
	totals := map[string]int64{}
	for _, e := range events {
		if strings.ToLower(e.EventType) != "os.app_focus_block" {
			continue
		}
		duration := safeInt(e.Payload.Get("duration_sec"))
		if duration <= 0 {
			continue
		}
		app := e.App
		if app == "" {
			app = "unknown"
		}
		totals[app] += duration
	}
	out := make([]AppDuration, 0, len(totals))
	for app, sec := range totals {
		out = append(out, AppDuration{App: app, Sec: sec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sec != out[j].Sec {
			return out[i].Sec > out[j].Sec
		}
		return out[i].App < out[j].App
	})
	return out
}

func keyEvents(events []Event, keyP1Types []string) []string {
	keySet := make(map[string]bool, len(keyP1Types))
	for _, t := range keyP1Types {
		keySet[t] = true
	}

	seen := map[string]bool{}
	var ordered []string
	for _, e := range events {
		eventType := strings.ToLower(e.EventType)
		if eventType == "" {
			continue
		}
		include := strings.ToUpper(e.Priority) == "P0" || keySet[eventType]
		if include && !seen[eventType] {
			seen[eventType] = true
			ordered = append(ordered, eventType)
		}
	}
	return ordered
}

func resources(events []Event) []Resource {
	type key struct{ t, id string }
	seen := map[key]bool{}
	var out []Resource
	for _, e := range events {
		k := key{e.ResourceType, e.ResourceID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Resource{Type: e.ResourceType, ID: e.ResourceID})
		if len(out) >= MaxResources {
			break
		}
	}
	return out
}

func counts(events []Event) Counts {
	c := Counts{Total: len(events)}
	for _, e := range events {
		switch strings.ToUpper(e.Priority) {
		case "P0":
			c.P0++
		case "P1":
			c.P1++
		case "P2":
			c.P2++
		}
	}
	return c
}

func safeInt(v envelope.Value) int64 {
	switch t := v.Any().(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
