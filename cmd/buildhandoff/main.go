// Command build-handoff assembles the bounded-size LLM handoff package and
// enqueues it, grounded on original_source/scripts/build_handoff.py.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"collector/internal/cliutil"
	"collector/internal/derive/handoff"
	"collector/internal/privacy"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	maxSizeKB := flag.Int("max-size-kb", 50, "max payload size in KB")
	sessions := flag.Int("sessions", handoff.DefaultRecentSessions, "recent sessions to include")
	routines := flag.Int("routines", handoff.DefaultRecentRoutines, "routine candidates to include")
	resources := flag.Int("resources", handoff.DefaultMaxResources, "max resources per session")
	evidence := flag.Int("evidence", handoff.DefaultMaxEvidence, "evidence session ids per candidate")
	redactionScan := flag.Int("redaction-scan", handoff.DefaultRedactionScanLimit, "recent events to scan for redaction summary")
	dryRun := flag.Bool("dry-run", false, "do not enqueue")
	skipUnchanged := flag.Bool("skip-unchanged", false, "skip if last_event_ts matches pending payload")
	keepLatestPending := flag.Bool("keep-latest-pending", false, "delete existing pending payload before insert")
	flag.Parse()

	cfg, store, err := cliutil.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	rules, err := privacy.LoadRules(cfg.Privacy.RulesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("loading privacy rules: %w", err))
		os.Exit(1)
	}

	ctx := context.Background()
	payload, err := handoff.BuildWithSizeGuard(ctx, store, rules, handoff.Options{
		MaxSizeBytes:       *maxSizeKB * 1024,
		RecentSessions:     *sessions,
		RecentRoutines:     *routines,
		MaxResources:       *resources,
		MaxEvidence:        *evidence,
		RedactionScanLimit: *redactionScan,
	}, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("building handoff package: %w", err))
		os.Exit(1)
	}

	lastEventTS := deviceContextField(payload.Data, "last_event_ts")

	if *skipUnchanged {
		latest, err := store.FetchLatestHandoff(ctx, "pending")
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("fetching latest pending handoff: %w", err))
			os.Exit(1)
		}
		if latest != nil {
			var previous map[string]any
			if json.Unmarshal([]byte(latest.PayloadJSON), &previous) == nil {
				prevTS := deviceContextField(previous, "last_event_ts")
				if prevTS != "" && prevTS == lastEventTS {
					fmt.Println("handoff_skipped=unchanged")
					return
				}
			}
		}
	}

	if *dryRun {
		fmt.Printf("handoff_ready size_bytes=%d\n", payload.SizeBytes)
		return
	}

	if *keepLatestPending {
		if err := store.ClearPendingHandoff(ctx); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("clearing pending handoff: %w", err))
			os.Exit(1)
		}
	}

	payloadJSON, err := json.Marshal(payload.Data)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("marshaling handoff payload: %w", err))
		os.Exit(1)
	}

	packageID, _ := payload.Data["package_id"].(string)
	createdAt, _ := payload.Data["created_at"].(string)

	if err := store.EnqueueHandoff(ctx, packageID, createdAt, "pending", string(payloadJSON), int64(payload.SizeBytes), "", ""); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("enqueuing handoff: %w", err))
		os.Exit(1)
	}

	fmt.Printf("handoff_enqueued size_bytes=%d\n", payload.SizeBytes)
}

func deviceContextField(data map[string]any, field string) string {
	dc, ok := data["device_context"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := dc[field].(string)
	return v
}
