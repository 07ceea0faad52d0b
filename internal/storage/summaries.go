package storage

import "context"

// UpsertDailySummary replaces the local-date row on conflict, so a
// re-running build-daily-summary pass is idempotent.
func (s *Store) UpsertDailySummary(ctx context.Context, dateLocal, startUTC, endUTC, payloadJSON, createdAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (date_local, start_utc, end_utc, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date_local) DO UPDATE SET
			payload_json = excluded.payload_json,
			start_utc = excluded.start_utc,
			end_utc = excluded.end_utc,
			created_at = excluded.created_at
	`, dateLocal, startUTC, endUTC, payloadJSON, createdAt)
	return err
}

// DailySummaryRecord is the read-path row shape for pattern-summary mining.
type DailySummaryRecord struct {
	DateLocal   string
	PayloadJSON string
}

// FetchRecentDailySummaries returns daily_summaries rows with date_local >=
// sinceDate, ordered ascending, for build-pattern-summary's windowed scan.
func (s *Store) FetchRecentDailySummaries(ctx context.Context, sinceDate string) ([]DailySummaryRecord, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT date_local, payload_json FROM daily_summaries WHERE date_local >= ? ORDER BY date_local ASC",
		sinceDate)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySummaryRecord
	for rows.Next() {
		var r DailySummaryRecord
		if err := rows.Scan(&r.DateLocal, &r.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertPatternSummary(ctx context.Context, createdAt string, windowDays int, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_summaries (created_at, window_days, payload_json) VALUES (?, ?, ?)
	`, createdAt, windowDays, payloadJSON)
	return err
}

func (s *Store) InsertLLMInput(ctx context.Context, createdAt, payloadJSON string, payloadSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_inputs (created_at, payload_json, payload_size) VALUES (?, ?, ?)
	`, createdAt, payloadJSON, payloadSize)
	return err
}
