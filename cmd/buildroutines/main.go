// Command build-routines mines recurring key-event patterns from stored
// sessions and replaces the routine_candidates table, grounded on
// original_source/scripts/build_routines.py.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"collector/internal/cliutil"
	"collector/internal/derive/routine"
	"collector/internal/envelope"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	start := flag.String("start", "", "start ts (ISO, optional)")
	end := flag.String("end", "", "end ts (ISO, optional)")
	days := flag.Float64("days", 7.0, "look back N days for sessions")
	nMin := flag.Int("n-min", 2, "min n-gram length")
	nMax := flag.Int("n-max", 5, "max n-gram length")
	minSupport := flag.Int("min-support", 2, "min support threshold")
	maxPatterns := flag.Int("max-patterns", 100, "max patterns to store")
	maxEvidence := flag.Int("max-evidence", 10, "max evidence session ids")
	useState := flag.Bool("use-state", false, "skip if no new sessions since last_routine_ts")
	dryRun := flag.Bool("dry-run", false, "do not insert")
	flag.Parse()

	_, store, err := cliutil.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	startTS := *start
	endTS := *end
	if *days > 0 && startTS == "" {
		startTS = envelope.FormatTimestamp(time.Now().Add(-time.Duration(*days * 24 * float64(time.Hour))))
	}

	latestEndTS, err := store.FetchLatestSessionEndTS(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("fetching latest session end ts: %w", err))
		os.Exit(1)
	}

	if *useState && latestEndTS != "" {
		lastTS, err := store.GetState(ctx, "last_routine_ts")
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("reading last_routine_ts: %w", err))
			os.Exit(1)
		}
		if lastTS != "" {
			lastParsed, lastErr := envelope.ParseTimestamp(lastTS)
			latestParsed, latestErr := envelope.ParseTimestamp(latestEndTS)
			if lastErr == nil && latestErr == nil && !latestParsed.After(lastParsed) {
				fmt.Println("routine_candidates_skipped=unchanged")
				return
			}
		}
	}

	rows, err := store.FetchSessions(ctx, startTS, endTS)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("fetching sessions: %w", err))
		os.Exit(1)
	}

	sessions := routine.RowsToSessions(rows)
	candidates, err := routine.BuildCandidates(sessions, routine.MiningParams{
		NMin:        *nMin,
		NMax:        *nMax,
		MinSupport:  *minSupport,
		MaxPatterns: *maxPatterns,
		MaxEvidence: *maxEvidence,
	}, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("mining routine candidates: %w", err))
		os.Exit(1)
	}

	if *dryRun {
		fmt.Printf("routine_candidates_ready=%d dry_run=true\n", len(candidates))
		return
	}

	if err := store.ClearRoutineCandidates(ctx); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("clearing routine candidates: %w", err))
		os.Exit(1)
	}
	for _, candidate := range candidates {
		evidenceJSON, err := json.Marshal(candidate.EvidenceSessionIDs)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("marshaling evidence session ids: %w", err))
			os.Exit(1)
		}
		if err := store.InsertRoutineCandidate(ctx, candidate.PatternID, candidate.PatternJSON, candidate.Support, candidate.Confidence, candidate.LastSeenTS, string(evidenceJSON)); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("inserting routine candidate %s: %w", candidate.PatternID, err))
			os.Exit(1)
		}
	}

	if *useState && latestEndTS != "" {
		if err := store.SetState(ctx, "last_routine_ts", latestEndTS); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("updating last_routine_ts: %w", err))
			os.Exit(1)
		}
	}

	fmt.Printf("routine_candidates_inserted=%d\n", len(candidates))
}
