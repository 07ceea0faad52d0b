package normalize

import (
	"testing"

	"collector/internal/envelope"
)

func TestNormalizeLenientFillsDefaults(t *testing.T) {
	env, err := Normalize(map[string]any{}, Lenient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.EventID == "" {
		t.Fatal("expected a generated event_id")
	}
	if env.Source != "unknown" || env.App != "unknown" || env.EventType != "unknown" {
		t.Fatalf("expected unknown defaults, got %+v", env)
	}
	if env.Priority != envelope.P1 {
		t.Fatalf("expected default priority P1, got %s", env.Priority)
	}
	if env.Resource.Type != "unknown" || env.Resource.ID != "unknown" {
		t.Fatalf("expected unknown resource, got %+v", env.Resource)
	}
}

func TestNormalizeStrictRequiresFields(t *testing.T) {
	_, err := Normalize(map[string]any{}, Strict)
	if err == nil {
		t.Fatal("expected a SchemaError")
	}
	var schemaErr *SchemaError
	if !asSchemaError(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %T: %v", err, err)
	}
}

func asSchemaError(err error, target **SchemaError) bool {
	se, ok := err.(*SchemaError)
	if ok {
		*target = se
	}
	return ok
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := map[string]any{
		"event_type": "os.foreground_changed",
		"app":        "A",
		"resource":   map[string]any{"type": "window", "id": "w1"},
	}
	first, err := Normalize(raw, Lenient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := Normalize(map[string]any(first.Raw.Any().(map[string]any)), Lenient)
	if err != nil {
		t.Fatalf("unexpected error on re-normalize: %v", err)
	}
	if first.App != again.App || first.EventType != again.EventType || first.Resource != again.Resource {
		t.Fatalf("normalize is not idempotent: %+v vs %+v", first, again)
	}
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	if _, err := Normalize(nil, Lenient); err == nil {
		t.Fatal("expected error for nil raw event")
	}
}

func TestNormalizeStrictValidatesUUID(t *testing.T) {
	raw := map[string]any{
		"schema_version": "1.0",
		"event_id":       "not-a-uuid",
		"ts":             "2026-01-01T00:00:00Z",
		"source":         "os",
		"app":            "A",
		"event_type":     "os.foreground_changed",
		"priority":       "P1",
		"resource":       map[string]any{"type": "window", "id": "w1"},
		"payload":        map[string]any{},
		"privacy":        map[string]any{"pii_level": "unknown", "redaction": []any{}},
	}
	if _, err := Normalize(raw, Strict); err == nil {
		t.Fatal("expected invalid event_id error in strict mode")
	}
}
