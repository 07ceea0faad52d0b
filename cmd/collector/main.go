// Command collector runs the always-on ingest daemon: it wires the Store,
// PrivacyGuard, PriorityProcessor and EventBus into the HTTP ingest server,
// runs the periodic retention sweep, and serves /events, /health, /stats
// until signalled to stop, grounded on ELIDA's cmd/elida/main.go wiring
// (config load -> structured logging -> component construction -> signal-
// driven graceful shutdown) and original_source/main.py's top-level wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"collector/internal/bus"
	"collector/internal/config"
	"collector/internal/cryptoutil"
	"collector/internal/ingest"
	"collector/internal/normalize"
	"collector/internal/observability"
	"collector/internal/priority"
	"collector/internal/privacy"
	"collector/internal/storage"
	"collector/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting collector",
		"listen_host", cfg.Ingest.Host,
		"listen_port", cfg.Ingest.Port,
		"storage_path", cfg.Storage.Path,
		"state_kv_backend", cfg.StateKV.Backend,
	)

	var cipher *cryptoutil.Cipher
	if cfg.Storage.EncryptionEnabled {
		key, err := cryptoutil.LoadKey(cfg.Storage.EncryptionKeyFile)
		if err != nil {
			slog.Error("failed to load encryption key", "error", err)
			os.Exit(1)
		}
		cipher, err = cryptoutil.NewCipher(key)
		if err != nil {
			slog.Error("failed to build cipher", "error", err)
			os.Exit(1)
		}
		slog.Info("at-rest encryption enabled")
	}

	store, err := storage.Open(storage.Options{
		Path:          cfg.Storage.Path,
		WALMode:       cfg.Storage.WALMode,
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
		Cipher:        cipher,
	})
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rules, err := privacy.LoadRules(cfg.Privacy.RulesPath)
	if err != nil {
		slog.Error("failed to load privacy rules", "error", err, "path", cfg.Privacy.RulesPath)
		os.Exit(1)
	}

	settingsStore, err := config.NewSettingsStore(filepath.Dir(cfg.Storage.Path), config.Settings{
		Priority: config.PrioritySettings{
			DebounceSeconds:     &cfg.Priority.DebounceSeconds,
			DropP2WhenQueueOver: &cfg.Priority.DropP2WhenQueueOver,
		},
		Retention: config.RetentionSettings{MaxDBMB: &cfg.Retention.MaxDBMB},
	})
	if err != nil {
		slog.Error("failed to load runtime settings overrides", "error", err)
		os.Exit(1)
	}
	applySettingsOverrides(cfg, rules, settingsStore.GetMerged())

	guard := privacy.NewGuard(rules)

	var tp *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tp, err = telemetry.NewProvider(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tp = telemetry.NoopProvider()
		} else {
			slog.Info("telemetry enabled", "exporter", cfg.Telemetry.Exporter, "endpoint", cfg.Telemetry.Endpoint)
		}
	} else {
		tp = telemetry.NoopProvider()
	}

	metrics := observability.New(10 * time.Second)

	proc := priority.NewProcessor(priority.Config{
		DebounceSeconds:     cfg.Priority.DebounceSeconds,
		FocusEventTypes:     cfg.Priority.FocusEventTypes,
		FocusBlockEventType: cfg.Priority.FocusBlockEventType,
		DropP2WhenQueueOver: cfg.Priority.DropP2WhenQueueOver,
		P0EventTypes:        cfg.Priority.P0EventTypes,
		P1EventTypes:        cfg.Priority.P1EventTypes,
		P2EventTypes:        cfg.Priority.P2EventTypes,
	}, metrics)

	eventBus := bus.New(store, guard, proc, bus.Config{
		ValidationLevel:     normalize.Level(cfg.Bus.ValidationLevel),
		QueueSize:           cfg.Bus.QueueSize,
		InsertBatchSize:     cfg.Bus.InsertBatchSize,
		InsertFlushInterval: cfg.Bus.InsertFlushInterval,
		RetryPolicy: storage.RetryPolicy{
			Attempts:  cfg.Bus.RetryAttempts,
			BackoffMS: cfg.Bus.RetryBackoffMS,
		},
		FocusBlockEventType: cfg.Priority.FocusBlockEventType,
		ActivityDetail: bus.ActivityDetailConfig{
			Enabled:        cfg.ActivityDetail.Enabled,
			MinDurationSec: cfg.ActivityDetail.MinDurationSec,
			StoreHint:      cfg.ActivityDetail.StoreHint,
			FullTitleApps:  cfg.ActivityDetail.FullTitleApps,
			MaxTitleLen:    cfg.ActivityDetail.MaxTitleLen,
		},
	}, metrics, logger).WithTelemetry(tp)

	ingestCfg := ingest.Config{Host: cfg.Ingest.Host, Port: cfg.Ingest.Port, Token: cfg.Ingest.Token}
	ingestServer := ingest.New(ingestCfg, eventBus, metrics, store, logger)

	httpServer := &http.Server{
		Addr:         ingestCfg.Addr(),
		Handler:      ingestServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eventBus.Run(ctx)
	go runRetentionLoop(ctx, store, cfg.Retention, tp, logger)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("ingest server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("ingest server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down collector")
	cancel()
	eventBus.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ingest server shutdown error", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("collector stopped")
}

// applySettingsOverrides layers a merged runtime Settings snapshot (built-in
// defaults plus any operator-saved <storage dir>/settings.json) onto the
// loaded config and privacy rules before any component is constructed, the
// same layering ELIDA's SettingsStore does for its own runtime knobs.
func applySettingsOverrides(cfg *config.Config, rules *privacy.Rules, merged config.Settings) {
	if merged.Priority.DebounceSeconds != nil {
		cfg.Priority.DebounceSeconds = *merged.Priority.DebounceSeconds
	}
	if merged.Priority.DropP2WhenQueueOver != nil {
		cfg.Priority.DropP2WhenQueueOver = *merged.Priority.DropP2WhenQueueOver
	}
	if merged.Retention.MaxDBMB != nil {
		cfg.Retention.MaxDBMB = *merged.Retention.MaxDBMB
	}
	if merged.Privacy.URLMode != nil {
		rules.URLMode = privacy.URLMode(*merged.Privacy.URLMode)
	}
	if merged.Privacy.DenylistAction != nil {
		rules.DenylistAction = *merged.Privacy.DenylistAction
	}
}

// runRetentionLoop sweeps the database on cfg.Interval until ctx is
// cancelled, mirroring original_source/retention.py being invoked from a
// scheduler loop rather than a one-shot CLI.
func runRetentionLoop(ctx context.Context, store *storage.Store, cfg config.RetentionConfig, tp *telemetry.Provider, logger *slog.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	policy := storage.RetentionPolicy{
		RawEventsDays:         cfg.RawEventsDays,
		SessionsDays:          cfg.SessionsDays,
		RoutineCandidatesDays: cfg.RoutineCandidatesDays,
		HandoffQueueDays:      cfg.HandoffQueueDays,
		DailySummariesDays:    cfg.DailySummariesDays,
		PatternSummariesDays:  cfg.PatternSummariesDays,
		LLMInputsDays:         cfg.LLMInputsDays,
		MaxDBMB:               cfg.MaxDBMB,
		BatchSize:             cfg.BatchSize,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			spanCtx, span := tp.StartRetentionSpan(ctx)
			result, err := storage.RunRetention(spanCtx, store, policy, time.Now(), false)
			telemetry.EndSpan(span, err)
			if err != nil {
				logger.Error("retention sweep failed", "error", err)
				continue
			}
			line, err := result.MarshalJSONLine()
			if err != nil {
				logger.Error("retention result marshal failed", "error", err)
				continue
			}
			fmt.Println(string(line))
		}
	}
}
