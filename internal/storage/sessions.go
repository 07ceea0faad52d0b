package storage

import (
	"context"
	"database/sql"
)

func (s *Store) InsertSession(ctx context.Context, sessionID, startTS, endTS string, durationSec int64, summaryJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, start_ts, end_ts, duration_sec, summary_json)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, startTS, endTS, durationSec, summaryJSON)
	return err
}

// SessionRecord is the read-path row shape for derivation tooling.
type SessionRecord struct {
	SessionID   string
	StartTS     string
	EndTS       string
	DurationSec int64
	SummaryJSON string
}

func (s *Store) FetchSessions(ctx context.Context, startTS, endTS string) ([]SessionRecord, error) {
	query := "SELECT session_id, start_ts, end_ts, duration_sec, summary_json FROM sessions"
	var clauses []string
	var args []any
	if startTS != "" {
		clauses = append(clauses, "start_ts >= ?")
		args = append(args, startTS)
	}
	if endTS != "" {
		clauses = append(clauses, "end_ts <= ?")
		args = append(args, endTS)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
	}
	query += " ORDER BY start_ts ASC"

	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.StartTS, &r.EndTS, &r.DurationSec, &r.SummaryJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FetchRecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, start_ts, end_ts, duration_sec, summary_json
		FROM sessions ORDER BY start_ts DESC LIMIT ?
	`, limit)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.StartTS, &r.EndTS, &r.DurationSec, &r.SummaryJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FetchLatestSessionEndTS(ctx context.Context) (string, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, "SELECT end_ts FROM sessions ORDER BY end_ts DESC LIMIT 1")
	s.mu.Unlock()

	var endTS string
	if err := row.Scan(&endTS); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return endTS, nil
}
