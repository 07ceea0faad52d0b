// Package priority classifies envelopes into P0/P1/P2, debounces chatty
// foreground/title-change events, and synthesizes focus-block events from
// foreground transitions. A Processor is single-owner state: its debounce
// map and focus state are plain fields touched only by the worker goroutine
// that calls Process/Flush — never behind a lock.
package priority

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"collector/internal/envelope"
)

var defaultP0 = []string{
	"outlook.send_clicked", "excel.export_pdf", "excel.export_csv",
	"excel.save_as", "os.file_saved", "excel.refresh_pivot",
	"upload_done", "share_link_created",
}

var defaultP1 = []string{
	"os.app_focus_block", "os.file_opened", "excel.workbook_opened",
	"outlook.compose_started", "outlook.attachment_added_meta",
}

var defaultP2 = []string{
	"os.foreground_changed", "os.window_title_changed", "os.clipboard_meta",
}

var debounceEventTypes = map[string]bool{
	"os.foreground_changed":    true,
	"os.window_title_changed": true,
}

// DropMetrics receives counters for silent drops; nil is accepted.
type DropMetrics interface {
	RecordDrop(reason string)
}

// Config configures a Processor; configurable sets are merged with the
// built-in defaults, per spec.md §4.3.
type Config struct {
	DebounceSeconds       float64
	FocusEventTypes       []string
	FocusBlockEventType   string
	DropP2WhenQueueOver   float64
	P0EventTypes          []string
	P1EventTypes          []string
	P2EventTypes          []string
}

func DefaultConfig() Config {
	return Config{
		DebounceSeconds:     2.0,
		FocusEventTypes:     []string{"os.foreground_changed"},
		FocusBlockEventType: "os.app_focus_block",
		DropP2WhenQueueOver: 0.8,
	}
}

type debounceKey struct {
	eventType  string
	app        string
	resourceID string
}

type focusState struct {
	envelope envelope.Envelope
	ts       *time.Time
}

// Processor is the stateful classifier/debouncer/synthesizer.
type Processor struct {
	cfg     Config
	metrics DropMetrics

	p0Set map[string]bool
	p1Set map[string]bool
	p2Set map[string]bool

	focusEventTypes map[string]bool
	lastEventTS     map[debounceKey]time.Time
	focus           *focusState
}

func NewProcessor(cfg Config, metrics DropMetrics) *Processor {
	p := &Processor{
		cfg:     cfg,
		metrics: metrics,
		p0Set:   toLowerSet(defaultP0, cfg.P0EventTypes),
		p1Set:   toLowerSet(defaultP1, cfg.P1EventTypes),
		p2Set:   toLowerSet(defaultP2, cfg.P2EventTypes),
		focusEventTypes: toLowerSet(cfg.FocusEventTypes, nil),
		lastEventTS:     make(map[debounceKey]time.Time),
	}
	return p
}

func toLowerSet(base, extra []string) map[string]bool {
	out := make(map[string]bool, len(base)+len(extra))
	for _, item := range base {
		out[strings.ToLower(item)] = true
	}
	for _, item := range extra {
		out[strings.ToLower(item)] = true
	}
	return out
}

// Process classifies env, applies queue-pressure and debounce drops, and
// handles focus-event transitions, returning zero or more envelopes to
// flush downstream. A non-focus envelope that survives is returned as is; a
// focus event is absorbed into the focus state and only the synthesized
// focus-block envelope for the previous focus (if any) is returned.
func (p *Processor) Process(env envelope.Envelope, queueRatio float64) []envelope.Envelope {
	eventType := strings.ToLower(env.EventType)
	env.Priority = classifyPriority(eventType, env.Priority, p.p0Set, p.p1Set, p.p2Set)

	if env.Priority == envelope.P2 && queueRatio >= p.cfg.DropP2WhenQueueOver {
		p.drop("queue_overflow")
		return nil
	}

	if p.focusEventTypes[eventType] {
		return p.handleFocusEvent(env)
	}

	if debounceEventTypes[eventType] {
		if p.shouldDebounce(env, eventType) {
			p.drop("debounce")
			return nil
		}
	}

	return []envelope.Envelope{env}
}

// Flush emits a final focus block (if the elapsed time since focus_state
// qualifies) on bus shutdown.
func (p *Processor) Flush() []envelope.Envelope {
	if p.focus == nil {
		return nil
	}
	now := time.Now().UTC()
	return p.emitFocusBlock(now)
}

func (p *Processor) drop(reason string) {
	if p.metrics != nil {
		p.metrics.RecordDrop(reason)
	}
}

func (p *Processor) shouldDebounce(env envelope.Envelope, eventType string) bool {
	ts, err := env.ParseTS()
	if err != nil {
		return false
	}
	key := debounceKey{eventType: eventType, app: env.App, resourceID: env.Resource.ID}
	last, ok := p.lastEventTS[key]
	p.lastEventTS[key] = ts
	if !ok {
		return false
	}
	return ts.Sub(last).Seconds() < p.cfg.DebounceSeconds
}

func (p *Processor) handleFocusEvent(env envelope.Envelope) []envelope.Envelope {
	ts, err := env.ParseTS()
	var emitted []envelope.Envelope
	if p.focus != nil && err == nil {
		emitted = p.emitFocusBlock(ts)
	}
	var tsPtr *time.Time
	if err == nil {
		tsPtr = &ts
	}
	p.focus = &focusState{envelope: env, ts: tsPtr}
	return emitted
}

// emitFocusBlock synthesizes a focus-block envelope carrying the PREVIOUS
// (focus_state) envelope's ts, app, window_id, resource, and privacy tags —
// resolved from original_source/priority.py's _emit_focus_block, which is
// authoritative since spec.md leaves the synthetic event's ts implicit.
func (p *Processor) emitFocusBlock(newTS time.Time) []envelope.Envelope {
	prev := p.focus
	if prev == nil || prev.ts == nil {
		return nil
	}
	duration := newTS.Sub(*prev.ts).Seconds()
	if duration < 0 {
		duration = 0
	}
	if duration < p.cfg.DebounceSeconds {
		return nil
	}

	payload := prev.envelope.Payload.Clone()
	if payload.Kind != envelope.KindMap {
		payload = envelope.EmptyMap()
	}
	payload.Map["duration_sec"] = envelope.FromNumber(float64(int64(duration)))

	block := envelope.Envelope{
		SchemaVersion: prev.envelope.SchemaVersion,
		EventID:       uuid.NewString(),
		TS:            prev.envelope.TS,
		Source:        prev.envelope.Source,
		App:           prev.envelope.App,
		EventType:     p.cfg.FocusBlockEventType,
		Resource:      prev.envelope.Resource,
		Payload:       payload,
		Privacy: envelope.Privacy{
			PIILevel:  prev.envelope.Privacy.PIILevel,
			Redaction: append([]string{}, prev.envelope.Privacy.Redaction...),
		},
		PID:      prev.envelope.PID,
		WindowID: prev.envelope.WindowID,
		Raw:      prev.envelope.Raw,
	}
	block.Priority = classifyPriority(strings.ToLower(block.EventType), envelope.P1, p.p0Set, p.p1Set, p.p2Set)

	return []envelope.Envelope{block}
}

func classifyPriority(eventType string, current envelope.Priority, p0, p1, p2 map[string]bool) envelope.Priority {
	switch {
	case p0[eventType]:
		return envelope.P0
	case p1[eventType]:
		return envelope.P1
	case p2[eventType]:
		return envelope.P2
	}
	switch current {
	case envelope.P0, envelope.P1, envelope.P2:
		return current
	default:
		return envelope.P1
	}
}
