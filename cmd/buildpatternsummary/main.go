// Command build-pattern-summary ranks recent daily-usage patterns and
// mined routine candidates into a digest, following the same family as
// build-daily-summary (original_source/scripts/build_pattern_summary.py).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"collector/internal/cliutil"
	"collector/internal/derive/summary"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	sinceDays := flag.Int("since-days", 7, "days of history to aggregate")
	topHours := flag.Int("top-hours", 12, "top hour-of-day patterns to include")
	maxRoutines := flag.Int("max-routines", 10, "max routine candidates in digest")
	output := flag.String("output", "", "output path (default: <logging.dir>/pattern_summary_<timestamp>.json)")
	storeDB := flag.Bool("store-db", false, "store summary in DB")
	flag.Parse()

	cfg, store, err := cliutil.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	pattern, err := summary.BuildPattern(ctx, store, summary.PatternOptions{
		SinceDays:   *sinceDays,
		TopHours:    *topHours,
		MaxRoutines: *maxRoutines,
		StoreDB:     *storeDB,
	}, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("building pattern summary: %w", err))
		os.Exit(1)
	}

	outPath := *output
	if outPath == "" {
		dir := cfg.Logging.Dir
		if dir == "" {
			dir = "logs"
		}
		outPath = filepath.Join(dir, fmt.Sprintf("pattern_summary_%s.json", now.UTC().Format("20060102T150405Z")))
	}

	data, err := json.MarshalIndent(pattern, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("marshaling pattern summary: %w", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("creating output directory: %w", err))
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("writing output file: %w", err))
		os.Exit(1)
	}

	fmt.Printf("pattern_summary_saved=%s\n", outPath)
}
