// Package session groups stored events into sessions separated by idle
// gaps, P0 boundaries, or explicit idle-start markers, and builds a summary
// for each, grounded on original_source/sessionizer.py and features.py.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"collector/internal/envelope"
	"collector/internal/storage"
)

// IdleStartEventType, seen on its own, always closes the current session.
const IdleStartEventType = "os.idle_start"

// Event is a single stored event widened for sessionization, carrying a
// parsed timestamp instead of the raw string.
type Event struct {
	TS           time.Time
	EventType    string
	Priority     string
	App          string
	ResourceType string
	ResourceID   string
	Payload      envelope.Value
}

// RowsToEvents converts stored event rows into sessionizable Events, dropping
// any row whose timestamp fails to parse and sorting the result by ts,
// matching original_source/sessionizer.py's rows_to_events.
func RowsToEvents(rows []storage.EventRecord) []Event {
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		ts, err := envelope.ParseTimestamp(row.TS)
		if err != nil {
			continue
		}
		events = append(events, Event{
			TS:           ts,
			EventType:    row.EventType,
			Priority:     row.Priority,
			App:          row.App,
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID,
			Payload:      safeJSON(row.PayloadJSON),
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].TS.Before(events[j].TS) })
	return events
}

func safeJSON(raw string) envelope.Value {
	if raw == "" {
		return envelope.EmptyMap()
	}
	var v envelope.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return envelope.EmptyMap()
	}
	if !v.IsMap() {
		return envelope.EmptyMap()
	}
	return v
}

// Sessionize splits events into sessions, closing the current session on:
// a gap of gapSeconds or more since the previous event, an os.idle_start
// event (which is itself dropped), or any P0 event (which is kept and
// closes the session it's in), per original_source/sessionizer.py's
// sessionize.
func Sessionize(events []Event, gapSeconds int) [][]Event {
	var sessions [][]Event
	var current []Event
	var lastTS time.Time
	haveLast := false

	flush := func() {
		if len(current) > 0 {
			sessions = append(sessions, current)
			current = nil
		}
	}

	for _, event := range events {
		if haveLast && gapSeconds > 0 {
			gap := event.TS.Sub(lastTS).Seconds()
			if gap >= float64(gapSeconds) {
				flush()
				haveLast = false
			}
		}

		if strings.ToLower(event.EventType) == IdleStartEventType {
			flush()
			haveLast = false
			continue
		}

		current = append(current, event)

		if strings.ToUpper(event.Priority) == "P0" {
			flush()
			haveLast = false
			continue
		}

		lastTS = event.TS
		haveLast = true
	}

	flush()
	return sessions
}

// Record is a built session ready for storage.
type Record struct {
	SessionID   string
	StartTS     string
	EndTS       string
	DurationSec int64
	SummaryJSON string
}

// BuildRecords turns grouped sessions into storable Records, generating a
// fresh session_id and building each summary, per
// original_source/sessionizer.py's build_session_records.
func BuildRecords(sessions [][]Event) ([]Record, error) {
	records := make([]Record, 0, len(sessions))
	for _, events := range sessions {
		if len(events) == 0 {
			continue
		}
		start := events[0].TS
		end := events[len(events)-1].TS
		duration := int64(end.Sub(start).Seconds())
		if duration < 0 {
			duration = 0
		}

		summary := BuildSummary(events)
		summaryJSON, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("marshaling session summary: %w", err)
		}

		records = append(records, Record{
			SessionID:   uuid.NewString(),
			StartTS:     envelope.FormatTimestamp(start),
			EndTS:       envelope.FormatTimestamp(end),
			DurationSec: duration,
			SummaryJSON: string(summaryJSON),
		})
	}
	return records, nil
}
