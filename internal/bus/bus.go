// Package bus implements the EventBus: a bounded queue plus a single worker
// goroutine that runs each raw event through normalize -> privacy -> priority
// -> storage, batching inserts by size and time, grounded on
// original_source/bus.py and adapted to the teacher's
// context.Context-driven background-loop style (internal/session/manager.go).
package bus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"collector/internal/envelope"
	"collector/internal/normalize"
	"collector/internal/priority"
	"collector/internal/privacy"
	"collector/internal/storage"
	"collector/internal/telemetry"
)

// Metrics is the subset of observability.Observability the bus drives.
type Metrics interface {
	SetGauge(name string, value float64)
	RecordIngestInvalid()
	RecordStoreInsertOK()
	RecordStoreInsertFail()
	RecordPriority(priority string)
	SetLastEventTS(ts string)
	MaybeLog(logger *slog.Logger, dbSizeBytes int64)
}

// Config mirrors original_source's EventBus constructor knobs.
type Config struct {
	ValidationLevel     normalize.Level
	QueueSize           int
	InsertBatchSize     int
	InsertFlushInterval time.Duration
	RetryPolicy         storage.RetryPolicy
	FocusBlockEventType string
	ActivityDetail      ActivityDetailConfig
}

// ActivityDetailConfig controls how flushBuffer turns focus-block events
// into activity_details rows; mirrors config.ActivityDetailConfig.
type ActivityDetailConfig struct {
	Enabled        bool
	MinDurationSec int
	StoreHint      bool
	FullTitleApps  []string
	MaxTitleLen    int
}

func DefaultConfig() Config {
	return Config{
		ValidationLevel:     normalize.Lenient,
		QueueSize:           1000,
		InsertBatchSize:     100,
		InsertFlushInterval: time.Second,
		RetryPolicy:         storage.DefaultRetryPolicy(),
		FocusBlockEventType: "os.app_focus_block",
		ActivityDetail: ActivityDetailConfig{
			MinDurationSec: 5,
			StoreHint:      true,
			MaxTitleLen:    256,
		},
	}
}

// EventBus owns the single-writer pipeline. Enqueue is safe from any
// goroutine; the pipeline itself runs on exactly one worker so
// priority.Processor's unlocked debounce/focus state stays single-owner.
type EventBus struct {
	store     *storage.Store
	guard     *privacy.Guard
	priority  *priority.Processor
	cfg       Config
	metrics   Metrics
	logger    *slog.Logger
	telemetry *telemetry.Provider

	queue chan map[string]any

	buffer    []storage.EventRow
	lastFlush time.Time

	fullTitleApps map[string]bool

	doneCh chan struct{}
}

func New(store *storage.Store, guard *privacy.Guard, proc *priority.Processor, cfg Config, metrics Metrics, logger *slog.Logger) *EventBus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	fullTitleApps := make(map[string]bool, len(cfg.ActivityDetail.FullTitleApps))
	for _, app := range cfg.ActivityDetail.FullTitleApps {
		fullTitleApps[strings.ToLower(app)] = true
	}
	return &EventBus{
		store:         store,
		guard:         guard,
		priority:      proc,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger,
		telemetry:     telemetry.NoopProvider(),
		queue:         make(chan map[string]any, cfg.QueueSize),
		lastFlush:     time.Now(),
		fullTitleApps: fullTitleApps,
		doneCh:        make(chan struct{}),
	}
}

// WithTelemetry attaches a tracer used to span each batch flush and store
// insert; nil leaves the bus on its no-op default.
func (b *EventBus) WithTelemetry(tp *telemetry.Provider) *EventBus {
	if tp != nil {
		b.telemetry = tp
	}
	return b
}

// Enqueue offers a raw decoded JSON event to the pipeline. It returns false
// (queue full) rather than blocking, so a slow consumer degrades ingest
// rather than stalling HTTP handlers.
func (b *EventBus) Enqueue(raw map[string]any) bool {
	select {
	case b.queue <- raw:
		b.reportQueueDepth()
		return true
	default:
		b.reportQueueDepth()
		return false
	}
}

func (b *EventBus) reportQueueDepth() {
	if b.metrics == nil {
		return
	}
	ratio := b.queueRatio()
	b.metrics.SetGauge("queue.depth", float64(len(b.queue)))
	b.metrics.SetGauge("queue.ratio", ratio)
}

func (b *EventBus) queueRatio() float64 {
	capacity := cap(b.queue)
	if capacity <= 0 {
		return 0
	}
	return float64(len(b.queue)) / float64(capacity)
}

// Run drives the worker loop until ctx is cancelled. It is meant to be
// called from a single goroutine spawned by the caller (cmd/collector).
func (b *EventBus) Run(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drainRemaining()
			for _, out := range b.flushFocus() {
				b.buffer = append(b.buffer, storage.EventRow{Envelope: out})
			}
			b.flushBuffer(true)
			return
		case raw := <-b.queue:
			b.process(raw)
			b.maybeFlush(false)
		case <-ticker.C:
			b.reportQueueDepth()
			b.maybeFlush(false)
			if b.metrics != nil {
				b.metrics.MaybeLog(b.logger, b.store.GetDBSize())
			}
		}
	}
}

// drainRemaining processes whatever is already queued without blocking on
// new arrivals, used during shutdown.
func (b *EventBus) drainRemaining() {
	for {
		select {
		case raw := <-b.queue:
			b.process(raw)
		default:
			return
		}
	}
}

func (b *EventBus) flushFocus() []envelope.Envelope {
	return b.priority.Flush()
}

func (b *EventBus) process(raw map[string]any) {
	env, err := normalize.Normalize(raw, b.cfg.ValidationLevel)
	if err != nil {
		b.logger.Warn("drop event", "error", err)
		if b.metrics != nil {
			b.metrics.RecordIngestInvalid()
		}
		return
	}

	guarded, allow := b.guard.Apply(env)
	if !allow {
		return
	}

	for _, out := range b.priority.Process(guarded, b.queueRatio()) {
		b.buffer = append(b.buffer, storage.EventRow{Envelope: out})
		if len(b.buffer) >= b.cfg.InsertBatchSize {
			b.flushBuffer(true)
		}
	}
}

func (b *EventBus) maybeFlush(force bool) {
	if len(b.buffer) == 0 {
		return
	}
	if !force && time.Since(b.lastFlush) < b.cfg.InsertFlushInterval {
		return
	}
	b.flushBuffer(force)
}

func (b *EventBus) flushBuffer(force bool) {
	if len(b.buffer) == 0 {
		b.lastFlush = time.Now()
		return
	}
	if !force && time.Since(b.lastFlush) < b.cfg.InsertFlushInterval {
		return
	}
	batch := b.buffer
	b.buffer = nil
	b.lastFlush = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx, flushSpan := b.telemetry.StartFlushSpan(ctx, len(batch))
	defer telemetry.EndSpan(flushSpan, nil)

	insertCtx, insertSpan := b.telemetry.StartInsertSpan(ctx, len(batch))
	err := b.store.InsertEvents(insertCtx, batch, b.cfg.RetryPolicy)
	telemetry.EndSpan(insertSpan, err)
	if err != nil {
		b.logger.Error("failed to insert batch", "error", err, "batch_size", len(batch))
		if b.metrics != nil {
			b.metrics.RecordStoreInsertFail()
		}
		return
	}
	if b.metrics != nil {
		for _, row := range batch {
			b.metrics.RecordPriority(string(row.Envelope.Priority))
			b.metrics.RecordStoreInsertOK()
			b.metrics.SetLastEventTS(row.Envelope.TS)
		}
	}

	if b.cfg.ActivityDetail.Enabled {
		var details []storage.ActivityDetailRow
		for _, row := range batch {
			if detail, ok := b.buildActivityDetailRow(row.Envelope); ok {
				details = append(details, detail)
			}
		}
		if len(details) > 0 {
			if err := b.store.UpsertActivityDetails(ctx, details); err != nil {
				b.logger.Error("failed to upsert activity details", "error", err, "count", len(details))
			}
		}
	}
}

// buildActivityDetailRow derives an activity_details row from an
// os.app_focus_block envelope, per this module's title-hash/title-hint
// retention policy. It returns ok=false for any other event type, for
// blocks shorter than ActivityDetail.MinDurationSec, or when the envelope
// carries no window_title.
func (b *EventBus) buildActivityDetailRow(env envelope.Envelope) (storage.ActivityDetailRow, bool) {
	focusEventType := b.cfg.FocusBlockEventType
	if focusEventType == "" {
		focusEventType = "os.app_focus_block"
	}
	if env.EventType != focusEventType {
		return storage.ActivityDetailRow{}, false
	}
	if env.Payload.Kind != envelope.KindMap {
		return storage.ActivityDetailRow{}, false
	}
	durationVal, ok := env.Payload.Map["duration_sec"]
	if !ok || durationVal.Kind != envelope.KindNumber {
		return storage.ActivityDetailRow{}, false
	}
	duration := int64(durationVal.Num)
	if duration < int64(b.cfg.ActivityDetail.MinDurationSec) {
		return storage.ActivityDetailRow{}, false
	}
	titleVal, ok := env.Payload.Map["window_title"]
	if !ok || titleVal.Kind != envelope.KindString || titleVal.Str == "" {
		return storage.ActivityDetailRow{}, false
	}

	title := stripAppSuffix(titleVal.Str, env.App)
	titleHash := privacy.HMACSHA256(title, b.guard.HashSalt())

	var titleHint string
	if b.cfg.ActivityDetail.StoreHint && b.fullTitleApps[strings.ToLower(env.App)] {
		titleHint = privacy.Truncate(title, b.cfg.ActivityDetail.MaxTitleLen)
	}

	return storage.ActivityDetailRow{
		App:              env.App,
		TitleHash:        titleHash,
		TitleHint:        titleHint,
		FirstSeenTS:      env.TS,
		LastSeenTS:       env.TS,
		TotalDurationSec: duration,
	}, true
}

// stripAppSuffix removes a trailing " - <App>" decoration many window
// managers append to titles, so the same underlying window is hashed to
// the same title_hash regardless of which app reported it.
func stripAppSuffix(title, app string) string {
	if app == "" {
		return title
	}
	suffix := " - " + app
	if len(title) > len(suffix) && strings.EqualFold(title[len(title)-len(suffix):], suffix) {
		return title[:len(title)-len(suffix)]
	}
	return title
}

// Stop does not signal the worker itself: cancelling the context passed to
// Run starts the drain, and Stop blocks until Run has made its final flush
// and exited.
func (b *EventBus) Stop() {
	<-b.doneCh
}
