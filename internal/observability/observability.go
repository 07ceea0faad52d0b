// Package observability implements the minute-bucketed counters and gauges
// fed into the /stats endpoint and the periodic metrics_minute log line,
// grounded on original_source's observability.py.
package observability

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

type Observability struct {
	mu             sync.Mutex
	counters       map[string]int64
	gauges         map[string]float64
	minuteBucket   int64
	minuteCounters map[string]int64
	lastLog        time.Time
	logInterval    time.Duration
	lastEventTS    string
}

func New(logInterval time.Duration) *Observability {
	if logInterval < 10*time.Second {
		logInterval = 10 * time.Second
	}
	return &Observability{
		counters:       make(map[string]int64),
		gauges:         make(map[string]float64),
		minuteBucket:   time.Now().Unix() / 60,
		minuteCounters: make(map[string]int64),
		lastLog:        time.Now(),
		logInterval:    logInterval,
	}
}

func (o *Observability) Inc(name string, count int64, trackMinute bool) {
	if name == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += count
	o.tickMinute()
	if trackMinute {
		o.minuteCounters[name] += count
	}
}

func (o *Observability) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gauges[name] = value
}

func (o *Observability) SetLastEventTS(ts string) {
	if ts == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventTS = ts
}

// RecordDrop implements priority.DropMetrics.
func (o *Observability) RecordDrop(reason string) {
	o.Inc("pipeline.dropped_total", 1, true)
	if reason != "" {
		o.Inc("drop.reason."+reason, 1, true)
	}
}

func (o *Observability) RecordPriority(priority string) {
	if priority == "" {
		return
	}
	switch priority {
	case "P0", "P1", "P2":
		o.Inc("priority."+strings.ToLower(priority)+"_total", 1, true)
	}
}

func (o *Observability) RecordPrivacyDenied() {
	o.Inc("privacy.denied_total", 1, true)
	o.RecordDrop("denylist")
}

func (o *Observability) RecordPrivacyRedacted()   { o.Inc("privacy.redacted_total", 1, true) }
func (o *Observability) RecordIngestReceived()    { o.Inc("ingest.received_total", 1, true) }
func (o *Observability) RecordIngestOK()          { o.Inc("ingest.ok_total", 1, true) }
func (o *Observability) RecordIngestInvalid() {
	o.Inc("ingest.invalid_total", 1, true)
	o.RecordDrop("schema")
}
func (o *Observability) RecordStoreInsertOK() { o.Inc("store.insert_ok_total", 1, true) }
func (o *Observability) RecordStoreInsertFail() {
	o.Inc("store.insert_fail_total", 1, true)
	o.RecordDrop("store_fail")
}

// Snapshot is the shape served at GET /stats.
type Snapshot struct {
	Counters      map[string]int64   `json:"counters"`
	Gauges        map[string]float64 `json:"gauges"`
	Minute        int64              `json:"minute"`
	MinuteCounters map[string]int64  `json:"minute_counters"`
	DBSizeBytes   int64              `json:"db_size_bytes"`
	LastEventTS   string             `json:"last_event_ts,omitempty"`
}

func (o *Observability) Snapshot(dbSizeBytes int64) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tickMinute()
	return Snapshot{
		Counters:       cloneInt64(o.counters),
		Gauges:         cloneFloat64(o.gauges),
		Minute:         o.minuteBucket,
		MinuteCounters: cloneInt64(o.minuteCounters),
		DBSizeBytes:    dbSizeBytes,
		LastEventTS:    o.lastEventTS,
	}
}

// MaybeLog emits a metrics_minute structured log line at most once per
// logInterval, mirroring original_source's maybe_log.
func (o *Observability) MaybeLog(logger *slog.Logger, dbSizeBytes int64) {
	o.mu.Lock()
	now := time.Now()
	if now.Sub(o.lastLog) < o.logInterval {
		o.mu.Unlock()
		return
	}
	o.lastLog = now
	o.mu.Unlock()

	snap := o.Snapshot(dbSizeBytes)
	logger.Info("metrics_minute",
		"event", "metrics_minute",
		"counters", snap.Counters,
		"gauges", snap.Gauges,
		"minute", snap.Minute,
		"minute_counters", snap.MinuteCounters,
		"db_size_bytes", snap.DBSizeBytes,
		"last_event_ts", snap.LastEventTS,
	)
}

func (o *Observability) tickMinute() {
	nowBucket := time.Now().Unix() / 60
	if nowBucket != o.minuteBucket {
		o.minuteBucket = nowBucket
		o.minuteCounters = make(map[string]int64)
	}
}

func cloneInt64(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloat64(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
