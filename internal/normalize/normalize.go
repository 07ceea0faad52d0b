// Package normalize accepts arbitrary inbound objects from untrusted
// sensors and produces canonical envelope.Envelope values.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"collector/internal/envelope"
)

// Level selects how strictly a raw object must conform to the schema.
type Level string

const (
	Lenient Level = "lenient"
	Strict  Level = "strict"
)

var supportedMinVersion = [2]int{1, 0}
var supportedMaxVersion = [2]int{1, 0}

// SchemaError reports why normalization could not produce a valid envelope.
// The bus drops the envelope and records drop.reason.schema on this error.
type SchemaError struct {
	Kind  string
	Field string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Field)
}

func schemaErr(kind, field string) *SchemaError {
	return &SchemaError{Kind: kind, Field: field}
}

// Normalize converts a decoded JSON object (map[string]any, as produced by
// encoding/json) into a canonical Envelope. Normalize is idempotent:
// re-normalizing an already-normalized envelope's wire form yields the same
// envelope (given the same level).
func Normalize(raw map[string]any, level Level) (envelope.Envelope, error) {
	if raw == nil {
		return envelope.Envelope{}, schemaErr("invalid", "event must be an object")
	}
	lvl := Level(strings.ToLower(strings.TrimSpace(string(level))))
	if lvl != Lenient && lvl != Strict {
		return envelope.Envelope{}, schemaErr("invalid", "unknown validation level")
	}

	schemaVersion := stringOrDefault(raw["schema_version"], envelope.SchemaVersion)
	version, versionOK := parseVersion(schemaVersion)
	if !versionOK {
		if lvl == Strict {
			return envelope.Envelope{}, schemaErr("invalid", "schema_version")
		}
		schemaVersion = envelope.SchemaVersion
		version, _ = parseVersion(schemaVersion)
	}

	compatBack := versionOK && less(version, supportedMinVersion)
	compatForward := versionOK && less(supportedMaxVersion, version)
	allowMissing := lvl == Lenient || compatBack

	eventID, err := normalizeEventID(raw["event_id"], allowMissing, lvl)
	if err != nil {
		return envelope.Envelope{}, err
	}
	ts, err := normalizeTS(raw["ts"], allowMissing, lvl)
	if err != nil {
		return envelope.Envelope{}, err
	}
	source, err := normalizeRequiredString(raw["source"], "source", allowMissing)
	if err != nil {
		return envelope.Envelope{}, err
	}
	app, err := normalizeRequiredString(raw["app"], "app", allowMissing)
	if err != nil {
		return envelope.Envelope{}, err
	}
	eventType, err := normalizeRequiredString(raw["event_type"], "event_type", allowMissing)
	if err != nil {
		return envelope.Envelope{}, err
	}
	priority, err := normalizePriority(raw["priority"], allowMissing)
	if err != nil {
		return envelope.Envelope{}, err
	}
	resource, err := normalizeResource(raw["resource"], allowMissing)
	if err != nil {
		return envelope.Envelope{}, err
	}
	payload, err := normalizePayload(raw["payload"], allowMissing, lvl)
	if err != nil {
		return envelope.Envelope{}, err
	}
	priv, err := normalizePrivacy(raw["privacy"], allowMissing, lvl)
	if err != nil {
		return envelope.Envelope{}, err
	}

	pid := normalizePID(raw["pid"])
	windowID := normalizeWindowID(raw["window_id"])

	if compatForward && lvl == Strict {
		if err := ensureRequiredFieldsPresent(raw); err != nil {
			return envelope.Envelope{}, err
		}
	}

	return envelope.Envelope{
		SchemaVersion: schemaVersion,
		EventID:       eventID,
		TS:            ts,
		Source:        source,
		App:           app,
		EventType:     eventType,
		Priority:      priority,
		Resource:      resource,
		Payload:       payload,
		Privacy:       priv,
		PID:           pid,
		WindowID:      windowID,
		Raw:           envelope.FromAny(raw),
	}, nil
}

func parseVersion(v string) ([2]int, bool) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return [2]int{}, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return [2]int{}, false
	}
	return [2]int{major, minor}, true
}

func less(a, b [2]int) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func stringOrDefault(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func normalizeEventID(v any, allowMissing bool, level Level) (string, error) {
	s, _ := v.(string)
	if s == "" {
		if allowMissing {
			return uuid.NewString(), nil
		}
		return "", schemaErr("missing", "event_id")
	}
	if level == Strict {
		if _, err := uuid.Parse(s); err != nil {
			return "", schemaErr("invalid", "event_id")
		}
	}
	return s, nil
}

func normalizeTS(v any, allowMissing bool, level Level) (string, error) {
	switch t := v.(type) {
	case nil:
		if allowMissing {
			return envelope.FormatTimestamp(time.Now().UTC()), nil
		}
		return "", schemaErr("missing", "ts")
	case string:
		if t == "" {
			if allowMissing {
				return envelope.FormatTimestamp(time.Now().UTC()), nil
			}
			return "", schemaErr("missing", "ts")
		}
		return t, nil
	case float64:
		if level == Strict {
			return "", schemaErr("invalid", "ts")
		}
		return envelope.FormatTimestamp(time.Unix(int64(t), 0)), nil
	default:
		if level == Strict {
			return "", schemaErr("invalid", "ts")
		}
		return envelope.FormatTimestamp(time.Now().UTC()), nil
	}
}

func normalizeRequiredString(v any, name string, allowMissing bool) (string, error) {
	if v == nil {
		if allowMissing {
			return "unknown", nil
		}
		return "", schemaErr("missing", name)
	}
	if s, ok := v.(string); ok {
		if s == "" {
			if allowMissing {
				return "unknown", nil
			}
			return "", schemaErr("missing", name)
		}
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

var validPriorities = map[string]bool{"P0": true, "P1": true, "P2": true}

func normalizePriority(v any, allowMissing bool) (envelope.Priority, error) {
	s, _ := v.(string)
	if s == "" {
		if allowMissing {
			return envelope.P1, nil
		}
		return "", schemaErr("missing", "priority")
	}
	if validPriorities[s] {
		return envelope.Priority(s), nil
	}
	if allowMissing {
		return envelope.P1, nil
	}
	return "", schemaErr("invalid", "priority")
}

func normalizeResource(v any, allowMissing bool) (envelope.Resource, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if allowMissing {
			return envelope.Resource{Type: "unknown", ID: "unknown"}, nil
		}
		return envelope.Resource{}, schemaErr("missing", "resource")
	}
	rType, _ := m["type"].(string)
	rID := stringify(m["id"])
	if rType == "" || rID == "" {
		if allowMissing {
			return envelope.Resource{Type: "unknown", ID: "unknown"}, nil
		}
		return envelope.Resource{}, schemaErr("invalid", "resource")
	}
	return envelope.Resource{Type: rType, ID: rID}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func normalizePayload(v any, allowMissing bool, level Level) (envelope.Value, error) {
	if v == nil {
		if allowMissing {
			return envelope.EmptyMap(), nil
		}
		return envelope.Value{}, schemaErr("missing", "payload")
	}
	m, ok := v.(map[string]any)
	if !ok {
		if level == Strict && !allowMissing {
			return envelope.Value{}, schemaErr("invalid", "payload must be an object")
		}
		return envelope.EmptyMap(), nil
	}
	return envelope.FromAny(m), nil
}

func normalizePrivacy(v any, allowMissing bool, level Level) (envelope.Privacy, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if allowMissing {
			return envelope.Privacy{PIILevel: "unknown"}, nil
		}
		return envelope.Privacy{}, schemaErr("missing", "privacy")
	}
	piiLevel, _ := m["pii_level"].(string)
	if piiLevel == "" {
		if allowMissing {
			piiLevel = "unknown"
		} else {
			return envelope.Privacy{}, schemaErr("missing", "privacy.pii_level")
		}
	}
	var redactionList []string
	switch r := m["redaction"].(type) {
	case nil:
		if level == Strict && !allowMissing {
			return envelope.Privacy{}, schemaErr("missing", "privacy.redaction")
		}
	case []any:
		for _, item := range r {
			redactionList = append(redactionList, fmt.Sprintf("%v", item))
		}
	default:
		if level == Strict && !allowMissing {
			return envelope.Privacy{}, schemaErr("invalid", "privacy.redaction")
		}
	}
	return envelope.Privacy{PIILevel: piiLevel, Redaction: redactionList}, nil
}

func normalizePID(v any) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case int:
		return &t
	default:
		return nil
	}
}

func normalizeWindowID(v any) *string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return &t
	case float64:
		s := strconv.Itoa(int(t))
		return &s
	default:
		return nil
	}
}

func ensureRequiredFieldsPresent(raw map[string]any) error {
	required := []string{
		"schema_version", "event_id", "ts", "source", "app",
		"event_type", "priority", "resource", "payload", "privacy",
	}
	var missing []string
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return schemaErr("missing", strings.Join(missing, ", "))
	}
	return nil
}
