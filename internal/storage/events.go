package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"collector/internal/envelope"
)

// EventRow is a batched insert unit.
type EventRow struct {
	Envelope envelope.Envelope
}

// RetryPolicy configures InsertEvents' backoff on ErrBusy: retry up to
// Attempts times with backoff BackoffMS * 2^attempt.
type RetryPolicy struct {
	Attempts  int
	BackoffMS int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BackoffMS: 50}
}

// InsertEvents performs one multi-row insert for the batch, retrying on
// transient lock contention per policy. On exhaustion it returns ErrBusy
// wrapped with context; the caller (the event bus) records
// store.insert_fail_total and drops the batch.
func (s *Store) InsertEvents(ctx context.Context, rows []EventRow, policy RetryPolicy) error {
	if len(rows) == 0 {
		return nil
	}

	type preparedRow struct {
		schemaVersion, eventID, ts, source, app, eventType, priority string
		resourceType, resourceID, payloadJSON, privacyJSON, rawJSON  string
		pid                                                          any
		windowID                                                     any
	}

	prepared := make([]preparedRow, 0, len(rows))
	for _, row := range rows {
		env := row.Envelope
		payloadJSON, err := json.Marshal(env.Payload.Any())
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		privacyJSON, err := json.Marshal(env.Privacy)
		if err != nil {
			return fmt.Errorf("marshaling privacy: %w", err)
		}
		rawJSON, err := json.Marshal(env.Raw.Any())
		if err != nil {
			return fmt.Errorf("marshaling raw: %w", err)
		}
		rawStr := string(rawJSON)
		if s.cipher != nil {
			sealed, err := s.cipher.Seal(rawJSON)
			if err != nil {
				return fmt.Errorf("encrypting raw_json: %w", err)
			}
			rawStr = string(sealed)
		}

		var pid any
		if env.PID != nil {
			pid = *env.PID
		}
		var windowID any
		if env.WindowID != nil {
			windowID = *env.WindowID
		}

		prepared = append(prepared, preparedRow{
			schemaVersion: env.SchemaVersion,
			eventID:       env.EventID,
			ts:            env.TS,
			source:        env.Source,
			app:           env.App,
			eventType:     env.EventType,
			priority:      string(env.Priority),
			resourceType:  env.Resource.Type,
			resourceID:    env.Resource.ID,
			payloadJSON:   string(payloadJSON),
			privacyJSON:   string(privacyJSON),
			rawJSON:       rawStr,
			pid:           pid,
			windowID:      windowID,
		})
	}

	attempts := policy.Attempts
	if attempts < 0 {
		attempts = 0
	}
	backoffMS := policy.BackoffMS
	if backoffMS < 0 {
		backoffMS = 0
	}

	for attempt := 0; attempt <= attempts; attempt++ {
		err := func() error {
			s.mu.Lock()
			defer s.mu.Unlock()

			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer tx.Rollback()

			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO events (
					schema_version, event_id, ts, source, app, event_type, priority,
					resource_type, resource_id, payload_json, privacy_json, pid, window_id, raw_json
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, r := range prepared {
				if _, err := stmt.ExecContext(ctx,
					r.schemaVersion, r.eventID, r.ts, r.source, r.app, r.eventType, r.priority,
					r.resourceType, r.resourceID, r.payloadJSON, r.privacyJSON, r.pid, r.windowID, r.rawJSON,
				); err != nil {
					return err
				}
			}
			return tx.Commit()
		}()

		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return fmt.Errorf("inserting events: %w", err)
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: exhausted %d retries", ErrBusy, attempts)
		}
		sleepFor := time.Duration(backoffMS) * time.Millisecond * time.Duration(int64(1)<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}
	return nil
}

// ActivityDetailRow is one natural-key (app, title_hash) upsert unit.
type ActivityDetailRow struct {
	App              string
	TitleHash        string
	TitleHint        string
	FirstSeenTS      string
	LastSeenTS       string
	TotalDurationSec int64
}

// UpsertActivityDetails accumulates total_duration_sec/blocks per (app,
// title_hash), populating title_hint only the first time it becomes
// non-empty, mirroring original_source/store.py's upsert_activity_details.
func (s *Store) UpsertActivityDetails(ctx context.Context, rows []ActivityDetailRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_details (
			app, title_hash, title_hint, first_seen_ts, last_seen_ts, total_duration_sec, blocks
		) VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(app, title_hash) DO UPDATE SET
			last_seen_ts = excluded.last_seen_ts,
			total_duration_sec = activity_details.total_duration_sec + excluded.total_duration_sec,
			blocks = activity_details.blocks + 1,
			title_hint = CASE
				WHEN activity_details.title_hint IS NULL OR activity_details.title_hint = ''
				THEN excluded.title_hint
				ELSE activity_details.title_hint
			END
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.App, r.TitleHash, r.TitleHint, r.FirstSeenTS, r.LastSeenTS, r.TotalDurationSec); err != nil {
			return fmt.Errorf("upserting activity_details: %w", err)
		}
	}
	return tx.Commit()
}

// EventRecord is a read-path row shape for derivation tooling.
type EventRecord struct {
	TS           string
	EventType    string
	Priority     string
	App          string
	ResourceType string
	ResourceID   string
	PayloadJSON  string
}

func (s *Store) FetchEvents(ctx context.Context, startTS, endTS string) ([]EventRecord, error) {
	query := "SELECT ts, event_type, priority, app, resource_type, resource_id, payload_json FROM events"
	var clauses []string
	var args []any
	if startTS != "" {
		clauses = append(clauses, "ts >= ?")
		args = append(args, startTS)
	}
	if endTS != "" {
		clauses = append(clauses, "ts <= ?")
		args = append(args, endTS)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
	}
	query += " ORDER BY ts ASC"

	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.TS, &r.EventType, &r.Priority, &r.App, &r.ResourceType, &r.ResourceID, &r.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActivityDetailRecord is a read-path row shape for summary aggregation.
type ActivityDetailRecord struct {
	App              string
	TitleHint        string
	TotalDurationSec int64
	LastSeenTS       string
}

// FetchActivityDetails returns activity_details rows last seen within
// [startTS, endTS], for daily-summary top-titles aggregation.
func (s *Store) FetchActivityDetails(ctx context.Context, startTS, endTS string) ([]ActivityDetailRecord, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT app, title_hint, total_duration_sec, last_seen_ts FROM activity_details WHERE last_seen_ts >= ? AND last_seen_ts <= ?",
		startTS, endTS)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("fetching activity_details: %w", err)
	}
	defer rows.Close()

	var out []ActivityDetailRecord
	for rows.Next() {
		var r ActivityDetailRecord
		if err := rows.Scan(&r.App, &r.TitleHint, &r.TotalDurationSec, &r.LastSeenTS); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestEvent is the read-path result of fetch_latest_event.
type LatestEvent struct {
	TS          string
	EventType   string
	Priority    string
	App         string
	PayloadJSON string
}

func (s *Store) FetchLatestEvent(ctx context.Context) (*LatestEvent, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, "SELECT ts, event_type, priority, app, payload_json FROM events ORDER BY ts DESC LIMIT 1")
	s.mu.Unlock()

	var e LatestEvent
	if err := row.Scan(&e.TS, &e.EventType, &e.Priority, &e.App, &e.PayloadJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) FetchRecentPrivacy(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, "SELECT privacy_json FROM events ORDER BY ts DESC LIMIT ?", limit)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) HasRecentP0(ctx context.Context, sinceTS string) (bool, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, "SELECT 1 FROM events WHERE priority = 'P0' AND ts >= ? LIMIT 1", sinceTS)
	s.mu.Unlock()

	var x int
	if err := row.Scan(&x); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
