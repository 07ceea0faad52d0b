// Command run-retention sweeps the database once against the configured
// retention policy, grounded on original_source/scripts/run_retention.py.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"collector/internal/cliutil"
	"collector/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	forceVacuum := flag.Bool("force-vacuum", false, "force VACUUM regardless of size threshold")
	flag.Parse()

	cfg, store, err := cliutil.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	policy := storage.RetentionPolicy{
		RawEventsDays:         cfg.Retention.RawEventsDays,
		SessionsDays:          cfg.Retention.SessionsDays,
		RoutineCandidatesDays: cfg.Retention.RoutineCandidatesDays,
		HandoffQueueDays:      cfg.Retention.HandoffQueueDays,
		DailySummariesDays:    cfg.Retention.DailySummariesDays,
		PatternSummariesDays:  cfg.Retention.PatternSummariesDays,
		LLMInputsDays:         cfg.Retention.LLMInputsDays,
		MaxDBMB:               cfg.Retention.MaxDBMB,
		BatchSize:             cfg.Retention.BatchSize,
	}

	result, err := storage.RunRetention(context.Background(), store, policy, time.Now(), *forceVacuum)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("running retention: %w", err))
		os.Exit(1)
	}

	line, err := result.MarshalJSONLine()
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("marshaling retention result: %w", err))
		os.Exit(1)
	}
	fmt.Println(string(line))
}
