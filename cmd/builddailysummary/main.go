// Command build-daily-summary aggregates a single local date's events into
// a daily usage digest, grounded on
// original_source/scripts/build_daily_summary.py.
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
	dateFlag := flag.String("date", "", "local date YYYY-MM-DD (default: today)")
	output := flag.String("output", "", "output path (default: <logging.dir>/daily_summary_YYYY-MM-DD.json)")
	topApps := flag.Int("top-apps", 10, "top apps to include")
	topTitles := flag.Int("top-titles", 10, "top window titles to include")
	topHourly := flag.Int("top-hourly", 3, "top apps per hour bucket")
	storeDB := flag.Bool("store-db", false, "store summary in DB")
	tz := flag.String("tz", "local", "IANA timezone name, or \"local\" for system time")
	flag.Parse()

	cfg, store, err := cliutil.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	loc := resolveLocation(*tz)

	targetDate := time.Now().In(loc)
	if *dateFlag != "" {
		parsed, err := time.ParseInLocation("2006-01-02", *dateFlag, loc)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("parsing --date: %w", err))
			os.Exit(1)
		}
		targetDate = parsed
	}

	ctx := context.Background()
	daily, err := summary.BuildDaily(ctx, store, targetDate, loc, summary.DailyOptions{
		TopApps:   *topApps,
		TopTitles: *topTitles,
		TopHourly: *topHourly,
		StoreDB:   *storeDB,
	}, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("building daily summary: %w", err))
		os.Exit(1)
	}

	outPath := *output
	if outPath == "" {
		dir := cfg.Logging.Dir
		if dir == "" {
			dir = "logs"
		}
		outPath = filepath.Join(dir, fmt.Sprintf("daily_summary_%s.json", targetDate.Format("2006-01-02")))
	}

	data, err := json.MarshalIndent(daily, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("marshaling daily summary: %w", err))
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

	fmt.Printf("daily_summary_saved=%s\n", outPath)
}

func resolveLocation(name string) *time.Location {
	switch name {
	case "", "local", "system", "default":
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
