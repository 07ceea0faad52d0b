// Package routine mines recurring "key event" n-gram patterns across
// sessions and scores them by support/confidence, grounded on
// original_source/routine.py.
package routine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"collector/internal/envelope"
	"collector/internal/storage"
)

const ngramSeparator = "\x1f"

// Session is a session's ordered key events, widened with parsed timestamps
// for mining.
type Session struct {
	SessionID string
	StartTS   time.Time
	EndTS     time.Time
	KeyEvents []string
}

// sessionSummary is the subset of session.Summary this package needs to
// decode from summary_json without importing the session package (which
// would create an import cycle: session -> storage, routine -> storage).
type sessionSummary struct {
	KeyEvents []string `json:"key_events"`
}

// RowsToSessions converts stored session rows into mineable Sessions,
// lower-casing key events and dropping rows with unparseable timestamps,
// matching original_source/routine.py's rows_to_sessions.
func RowsToSessions(rows []storage.SessionRecord) []Session {
	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		start, err := envelope.ParseTimestamp(row.StartTS)
		if err != nil {
			continue
		}
		end, err := envelope.ParseTimestamp(row.EndTS)
		if err != nil {
			continue
		}
		var summary sessionSummary
		if row.SummaryJSON != "" {
			_ = json.Unmarshal([]byte(row.SummaryJSON), &summary)
		}
		events := make([]string, 0, len(summary.KeyEvents))
		for _, e := range summary.KeyEvents {
			if e == "" {
				continue
			}
			events = append(events, strings.ToLower(e))
		}
		sessions = append(sessions, Session{
			SessionID: row.SessionID,
			StartTS:   start,
			EndTS:     end,
			KeyEvents: events,
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTS.Before(sessions[j].StartTS) })
	return sessions
}

// Candidate is a mined routine pattern ready for storage.
type Candidate struct {
	PatternID          string
	PatternJSON        string
	Support            int64
	Confidence         float64
	LastSeenTS         string
	EvidenceSessionIDs []string
}

// MiningParams bounds the n-gram mining pass.
type MiningParams struct {
	NMin        int
	NMax        int
	MinSupport  int
	MaxPatterns int
	MaxEvidence int
}

func DefaultMiningParams() MiningParams {
	return MiningParams{NMin: 2, NMax: 5, MinSupport: 2, MaxPatterns: 100, MaxEvidence: 10}
}

type patternStats struct {
	events        []string
	support       int
	sessionIDs    []string
	sessionIDSeen map[string]bool
	lastSeen      time.Time
	haveLastSeen  bool
	weekdayCounts map[time.Weekday]int
}

// BuildCandidates mines n-gram routine candidates from sessions, scored by
// support and a recency/periodicity confidence bonus, per
// original_source/routine.py's build_routine_candidates. now is the
// reference instant for recency scoring (pass time.Now() from callers).
func BuildCandidates(sessions []Session, params MiningParams, now time.Time) ([]Candidate, error) {
	if params.MaxPatterns <= 0 {
		return nil, nil
	}

	stats := map[string]*patternStats{}
	for _, sess := range sessions {
		if len(sess.KeyEvents) < params.NMin {
			continue
		}
		patterns := uniqueNgrams(sess.KeyEvents, params.NMin, params.NMax)
		if len(patterns) == 0 {
			continue
		}
		weekday := sess.StartTS.Weekday()
		for _, pattern := range patterns {
			key := strings.Join(pattern, ngramSeparator)
			entry, ok := stats[key]
			if !ok {
				entry = &patternStats{events: pattern, sessionIDSeen: map[string]bool{}, weekdayCounts: map[time.Weekday]int{}}
				stats[key] = entry
			}
			if entry.sessionIDSeen[sess.SessionID] {
				continue
			}
			entry.sessionIDSeen[sess.SessionID] = true
			entry.sessionIDs = append(entry.sessionIDs, sess.SessionID)
			entry.support++
			entry.weekdayCounts[weekday]++
			if !entry.haveLastSeen || sess.EndTS.After(entry.lastSeen) {
				entry.lastSeen = sess.EndTS
				entry.haveLastSeen = true
			}
		}
	}

	candidates := make([]Candidate, 0, len(stats))
	for _, entry := range stats {
		if entry.support < params.MinSupport {
			continue
		}
		lastSeen := entry.lastSeen
		if !entry.haveLastSeen {
			lastSeen = now
		}
		confidence := confidenceScore(entry.support, entry.weekdayCounts, lastSeen, now)

		patternDoc := struct {
			Events []string `json:"events"`
			N      int      `json:"n"`
			Type   string   `json:"type"`
		}{Events: entry.events, N: len(entry.events), Type: "ngram"}
		patternJSON, err := json.Marshal(patternDoc)
		if err != nil {
			return nil, fmt.Errorf("marshaling routine pattern: %w", err)
		}

		evidence := entry.sessionIDs
		if params.MaxEvidence > 0 && len(evidence) > params.MaxEvidence {
			evidence = evidence[len(evidence)-params.MaxEvidence:]
		} else if params.MaxEvidence <= 0 {
			evidence = nil
		}

		candidates = append(candidates, Candidate{
			PatternID:          hashPattern(string(patternJSON)),
			PatternJSON:        string(patternJSON),
			Support:            int64(entry.support),
			Confidence:         confidence,
			LastSeenTS:         envelope.FormatTimestamp(lastSeen),
			EvidenceSessionIDs: evidence,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Support != candidates[j].Support {
			return candidates[i].Support > candidates[j].Support
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) > params.MaxPatterns {
		candidates = candidates[:params.MaxPatterns]
	}
	return candidates, nil
}

// uniqueNgrams returns every distinct contiguous n-gram of events for n in
// [nMin, min(nMax, len(events))].
func uniqueNgrams(events []string, nMin, nMax int) [][]string {
	if nMin <= 0 || nMax < nMin {
		return nil
	}
	limit := nMax
	if len(events) < limit {
		limit = len(events)
	}
	seen := map[string]bool{}
	var out [][]string
	for n := nMin; n <= limit; n++ {
		for idx := 0; idx+n <= len(events); idx++ {
			gram := append([]string(nil), events[idx:idx+n]...)
			key := strings.Join(gram, ngramSeparator)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, gram)
		}
	}
	return out
}

// confidenceScore rewards support with a recency bonus (seen in the last
// day or week) and a periodicity bonus (recurs on the same weekday at least
// twice), matching original_source/routine.py's _confidence.
func confidenceScore(support int, weekdayCounts map[time.Weekday]int, lastSeen, now time.Time) float64 {
	daysAgo := int(now.Sub(lastSeen).Hours() / 24)

	recencyBonus := 0.0
	switch {
	case daysAgo <= 1:
		recencyBonus = 0.3
	case daysAgo <= 7:
		recencyBonus = 0.1
	}

	periodicityBonus := 0.0
	for _, count := range weekdayCounts {
		if count >= 2 {
			periodicityBonus = 0.1
			break
		}
	}

	return float64(support) * (1 + recencyBonus) * (1 + periodicityBonus)
}

func hashPattern(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
