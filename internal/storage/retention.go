package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// deleteByCutoff removes rows older than cutoffTS from table, comparing on
// tsColumn. With batchSize > 0 it deletes in LIMIT-bounded passes so a huge
// backlog never holds the single write lock for one giant transaction,
// mirroring original_source/store.py's _delete_by_cutoff.
func (s *Store) deleteByCutoff(ctx context.Context, table, tsColumn, cutoffTS string, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	if batchSize > 0 {
		for {
			res, err := s.db.ExecContext(ctx, fmt.Sprintf(
				"DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s < ? LIMIT ?)",
				table, table, tsColumn,
			), cutoffTS, batchSize)
			if err != nil {
				return total, fmt.Errorf("deleting from %s: %w", table, err)
			}
			removed, err := res.RowsAffected()
			if err != nil {
				return total, err
			}
			total += removed
			if removed < int64(batchSize) {
				break
			}
		}
		return total, nil
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, tsColumn), cutoffTS)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteOldEvents(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "events", "ts", cutoffTS, batchSize)
}

func (s *Store) DeleteOldSessions(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "sessions", "end_ts", cutoffTS, batchSize)
}

func (s *Store) DeleteOldRoutines(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "routine_candidates", "last_seen_ts", cutoffTS, batchSize)
}

func (s *Store) DeleteOldHandoff(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "handoff_queue", "created_at", cutoffTS, batchSize)
}

func (s *Store) DeleteOldDailySummaries(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "daily_summaries", "created_at", cutoffTS, batchSize)
}

func (s *Store) DeleteOldPatternSummaries(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "pattern_summaries", "created_at", cutoffTS, batchSize)
}

func (s *Store) DeleteOldLLMInputs(ctx context.Context, cutoffTS string, batchSize int) (int64, error) {
	return s.deleteByCutoff(ctx, "llm_inputs", "created_at", cutoffTS, batchSize)
}

// ExpirePendingHandoff marks stale pending packages expired rather than
// deleting them. RunRetention calls DeleteOldHandoff with the same cutoff
// right after it, so within a retention pass the expired rows are deleted
// in that same pass; only the expired count survives, as expired_handoff.
func (s *Store) ExpirePendingHandoff(ctx context.Context, cutoffTS string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE handoff_queue SET status = 'expired'
		WHERE status = 'pending' AND created_at < ?
	`, cutoffTS)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RetentionPolicy mirrors config.RetentionConfig's per-table windows.
type RetentionPolicy struct {
	RawEventsDays         int
	SessionsDays          int
	RoutineCandidatesDays int
	HandoffQueueDays      int
	DailySummariesDays    int
	PatternSummariesDays  int
	LLMInputsDays         int
	MaxDBMB               int
	BatchSize             int
}

// RetentionResult is the summary emitted as a structured retention log line
// after each pass.
type RetentionResult struct {
	DeletedEvents           int64 `json:"deleted_events"`
	DeletedSessions         int64 `json:"deleted_sessions"`
	DeletedRoutines         int64 `json:"deleted_routines"`
	DeletedHandoff          int64 `json:"deleted_handoff"`
	ExpiredHandoff          int64 `json:"expired_handoff"`
	DeletedDailySummaries   int64 `json:"deleted_daily_summaries"`
	DeletedPatternSummaries int64 `json:"deleted_pattern_summaries"`
	DeletedLLMInputs        int64 `json:"deleted_llm_inputs"`
	DBSizeBefore            int64 `json:"db_size_before"`
	DBSizeAfter             int64 `json:"db_size_after"`
	Vacuumed                bool  `json:"vacuumed"`
}

// RunRetention sweeps every table against its configured window, checkpoints
// the WAL, and vacuums when the policy's size threshold is crossed (or
// forceVacuum is set), mirroring original_source/retention.py's
// run_retention end to end.
func RunRetention(ctx context.Context, s *Store, policy RetentionPolicy, now time.Time, forceVacuum bool) (RetentionResult, error) {
	result := RetentionResult{DBSizeBefore: s.GetDBSize()}

	if policy.RawEventsDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.RawEventsDays))
		n, err := s.DeleteOldEvents(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedEvents = n
	}
	if policy.SessionsDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.SessionsDays))
		n, err := s.DeleteOldSessions(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedSessions = n
	}
	if policy.RoutineCandidatesDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.RoutineCandidatesDays))
		n, err := s.DeleteOldRoutines(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedRoutines = n
	}
	if policy.HandoffQueueDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.HandoffQueueDays))
		expired, err := s.ExpirePendingHandoff(ctx, cutoff)
		if err != nil {
			return result, err
		}
		result.ExpiredHandoff = expired
		deleted, err := s.DeleteOldHandoff(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedHandoff = deleted
	}
	if policy.DailySummariesDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.DailySummariesDays))
		n, err := s.DeleteOldDailySummaries(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedDailySummaries = n
	}
	if policy.PatternSummariesDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.PatternSummariesDays))
		n, err := s.DeleteOldPatternSummaries(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedPatternSummaries = n
	}
	if policy.LLMInputsDays > 0 {
		cutoff := formatCutoff(now.AddDate(0, 0, -policy.LLMInputsDays))
		n, err := s.DeleteOldLLMInputs(ctx, cutoff, policy.BatchSize)
		if err != nil {
			return result, err
		}
		result.DeletedLLMInputs = n
	}

	if err := s.CheckpointWAL(); err != nil {
		return result, fmt.Errorf("checkpointing wal: %w", err)
	}
	result.DBSizeAfter = s.GetDBSize()

	if forceVacuum || shouldVacuum(policy, result.DBSizeAfter) {
		if err := s.Vacuum(); err != nil {
			return result, fmt.Errorf("vacuuming: %w", err)
		}
		result.Vacuumed = true
		result.DBSizeAfter = s.GetDBSize()
	}

	return result, nil
}

func shouldVacuum(policy RetentionPolicy, dbSizeBytes int64) bool {
	if policy.MaxDBMB <= 0 {
		return false
	}
	return dbSizeBytes >= int64(policy.MaxDBMB)*1024*1024
}

func formatCutoff(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// MarshalJSONLine renders a RetentionResult as the single-line structured log
// payload consumed by run-retention's CLI output.
func (r RetentionResult) MarshalJSONLine() ([]byte, error) {
	type alias RetentionResult
	return json.Marshal(struct {
		Event string `json:"event"`
		alias
	}{Event: "retention", alias: alias(r)})
}
