package storage

import "context"

func (s *Store) ClearRoutineCandidates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM routine_candidates")
	return err
}

func (s *Store) InsertRoutineCandidate(ctx context.Context, patternID, patternJSON string, support int64, confidence float64, lastSeenTS, evidenceSessionIDs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_candidates (
			pattern_id, pattern_json, support, confidence, last_seen_ts, evidence_session_ids
		) VALUES (?, ?, ?, ?, ?, ?)
	`, patternID, patternJSON, support, confidence, lastSeenTS, evidenceSessionIDs)
	return err
}

// RoutineCandidateRecord is the read-path row shape for derivation tooling.
type RoutineCandidateRecord struct {
	PatternID          string
	PatternJSON        string
	Support            int64
	Confidence         float64
	LastSeenTS         string
	EvidenceSessionIDs string
}

func (s *Store) FetchRoutineCandidates(ctx context.Context, limit int) ([]RoutineCandidateRecord, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, pattern_json, support, confidence, last_seen_ts, evidence_session_ids
		FROM routine_candidates ORDER BY support DESC, confidence DESC LIMIT ?
	`, limit)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutineCandidateRecord
	for rows.Next() {
		var r RoutineCandidateRecord
		if err := rows.Scan(&r.PatternID, &r.PatternJSON, &r.Support, &r.Confidence, &r.LastSeenTS, &r.EvidenceSessionIDs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
