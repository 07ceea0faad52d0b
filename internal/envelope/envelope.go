package envelope

import "time"

const SchemaVersion = "1.0"

// Priority classification assigned by the priority processor.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
)

// Resource identifies the thing an event is about: a window, file, email, etc.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Privacy carries the metadata PrivacyGuard attaches to every envelope.
type Privacy struct {
	PIILevel  string   `json:"pii_level"`
	Redaction []string `json:"redaction,omitempty"`
}

// Envelope is the canonical inbound-and-stored unit described in the
// collector's data model: every sensor event is normalized into one of
// these before it reaches PrivacyGuard, PriorityProcessor, and the Store.
type Envelope struct {
	SchemaVersion string   `json:"schema_version"`
	EventID       string   `json:"event_id"`
	TS            string   `json:"ts"`
	Source        string   `json:"source"`
	App           string   `json:"app"`
	EventType     string   `json:"event_type"`
	Priority      Priority `json:"priority"`
	Resource      Resource `json:"resource"`
	Payload       Value    `json:"payload"`
	Privacy       Privacy  `json:"privacy"`
	PID           *int     `json:"pid,omitempty"`
	WindowID      *string  `json:"window_id,omitempty"`

	// Raw holds the original inbound object for replay; may be encrypted
	// at rest by the store. Not part of the wire schema's required fields.
	Raw Value `json:"-"`
}

// ParseTS parses the envelope's ts as RFC-3339 / ISO-8601 UTC.
func (e Envelope) ParseTS() (time.Time, error) {
	return ParseTimestamp(e.TS)
}

// ParseTimestamp accepts the canonical "YYYY-MM-DDTHH:MM:SSZ" shape as well
// as RFC-3339 with fractional seconds, since sensors may send either.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// FormatTimestamp renders t as a UTC ISO-8601 string with a trailing Z,
// truncated to second precision the way the collector stores timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
