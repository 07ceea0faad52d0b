// Command build-sessions groups stored events into sessions and inserts
// them, grounded on original_source/scripts/build_sessions.py.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"collector/internal/cliutil"
	"collector/internal/derive/session"
	"collector/internal/envelope"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	start := flag.String("start", "", "start ts (ISO, optional)")
	end := flag.String("end", "", "end ts (ISO, optional)")
	sinceHours := flag.Float64("since-hours", 0, "start from now minus N hours (optional)")
	gapMinutes := flag.Int("gap-minutes", 15, "gap threshold in minutes")
	useState := flag.Bool("use-state", false, "resume from last_sessionized_ts in state table")
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

	if *sinceHours > 0 && startTS == "" {
		startTS = envelope.FormatTimestamp(time.Now().Add(-time.Duration(*sinceHours * float64(time.Hour))))
	}
	if *useState && startTS == "" && *sinceHours == 0 {
		last, err := store.GetState(ctx, "last_sessionized_ts")
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("reading last_sessionized_ts: %w", err))
			os.Exit(1)
		}
		if last != "" {
			if parsed, err := envelope.ParseTimestamp(last); err == nil {
				startTS = envelope.FormatTimestamp(parsed.Add(time.Microsecond))
			}
		}
	}

	rows, err := store.FetchEvents(ctx, startTS, endTS)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("fetching events: %w", err))
		os.Exit(1)
	}

	events := session.RowsToEvents(rows)
	sessions := session.Sessionize(events, *gapMinutes*60)
	records, err := session.BuildRecords(sessions)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("building session records: %w", err))
		os.Exit(1)
	}

	if *dryRun {
		fmt.Printf("sessions_ready=%d dry_run=true\n", len(records))
		return
	}

	for _, record := range records {
		if err := store.InsertSession(ctx, record.SessionID, record.StartTS, record.EndTS, record.DurationSec, record.SummaryJSON); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("inserting session %s: %w", record.SessionID, err))
			os.Exit(1)
		}
	}

	if *useState && len(records) > 0 {
		if err := store.SetState(ctx, "last_sessionized_ts", records[len(records)-1].EndTS); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("updating last_sessionized_ts: %w", err))
			os.Exit(1)
		}
	}

	fmt.Printf("sessions_inserted=%d\n", len(records))
}
