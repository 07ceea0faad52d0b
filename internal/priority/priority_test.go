package priority

import (
	"testing"

	"collector/internal/envelope"
)

func foregroundEvent(app, windowID, ts string) envelope.Envelope {
	return envelope.Envelope{
		EventType: "os.foreground_changed",
		App:       app,
		TS:        ts,
		Resource:  envelope.Resource{Type: "window", ID: windowID},
		Payload:   envelope.EmptyMap(),
	}
}

func TestFocusBlockSynthesis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebounceSeconds = 2
	p := NewProcessor(cfg, nil)

	out1 := p.Process(foregroundEvent("A", "w1", "2026-01-01T00:00:00Z"), 0)
	if len(out1) != 0 {
		t.Fatalf("expected no emission on first transition, got %d", len(out1))
	}

	out2 := p.Process(foregroundEvent("B", "w2", "2026-01-01T00:00:03Z"), 0)
	if len(out2) != 1 {
		t.Fatalf("expected exactly one focus block, got %d", len(out2))
	}
	block := out2[0]
	if block.EventType != "os.app_focus_block" {
		t.Fatalf("expected os.app_focus_block, got %s", block.EventType)
	}
	if block.App != "A" {
		t.Fatalf("expected focus block to carry previous app A, got %s", block.App)
	}
	if block.TS != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected focus block ts to equal the PREVIOUS envelope's ts, got %s", block.TS)
	}
	duration := block.Payload.Get("duration_sec")
	if duration.Num != 3 {
		t.Fatalf("expected duration_sec 3, got %v", duration.Num)
	}
}

func TestDebouncedTitleFlapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebounceSeconds = 2
	p := NewProcessor(cfg, nil)

	ev1 := envelope.Envelope{EventType: "os.window_title_changed", App: "X", TS: "2026-01-01T00:00:00Z", Resource: envelope.Resource{Type: "window", ID: "w"}, Payload: envelope.EmptyMap()}
	ev2 := envelope.Envelope{EventType: "os.window_title_changed", App: "X", TS: "2026-01-01T00:00:00.5Z", Resource: envelope.Resource{Type: "window", ID: "w"}, Payload: envelope.EmptyMap()}

	out1 := p.Process(ev1, 0)
	if len(out1) != 1 {
		t.Fatalf("expected first event to survive, got %d", len(out1))
	}
	out2 := p.Process(ev2, 0)
	if len(out2) != 0 {
		t.Fatalf("expected second event to be debounced, got %d", len(out2))
	}
}

func TestQueuePressureDropsP2(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropP2WhenQueueOver = 0.8
	p := NewProcessor(cfg, nil)
	ev := envelope.Envelope{EventType: "os.clipboard_meta", App: "X", TS: "2026-01-01T00:00:00Z", Resource: envelope.Resource{Type: "clipboard", ID: "c"}, Payload: envelope.EmptyMap()}
	out := p.Process(ev, 0.9)
	if len(out) != 0 {
		t.Fatalf("expected P2 event dropped under queue pressure, got %d", len(out))
	}
}

func TestUnknownEventTypeKeepsDeclaredPriority(t *testing.T) {
	p := NewProcessor(DefaultConfig(), nil)
	ev := envelope.Envelope{EventType: "custom.thing", Priority: envelope.P0, TS: "2026-01-01T00:00:00Z", Resource: envelope.Resource{Type: "x", ID: "y"}, Payload: envelope.EmptyMap()}
	out := p.Process(ev, 0)
	if len(out) != 1 || out[0].Priority != envelope.P0 {
		t.Fatalf("expected declared P0 priority preserved, got %+v", out)
	}
}
