package storage

import (
	"context"
	"database/sql"
)

func (s *Store) EnqueueHandoff(ctx context.Context, packageID, createdAt, status, payloadJSON string, payloadSize int64, expiresAt, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires, errVal any
	if expiresAt != "" {
		expires = expiresAt
	}
	if errMsg != "" {
		errVal = errMsg
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handoff_queue (
			package_id, created_at, status, payload_json, payload_size, expires_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, packageID, createdAt, status, payloadJSON, payloadSize, expires, errVal)
	return err
}

// HandoffRecord is the read-path row shape for the latest queued package.
type HandoffRecord struct {
	ID          int64
	PayloadJSON string
}

func (s *Store) FetchLatestHandoff(ctx context.Context, status string) (*HandoffRecord, error) {
	if status == "" {
		status = "pending"
	}
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payload_json FROM handoff_queue
		WHERE status = ? ORDER BY created_at DESC LIMIT 1
	`, status)
	s.mu.Unlock()

	var r HandoffRecord
	if err := row.Scan(&r.ID, &r.PayloadJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ClearPendingHandoff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM handoff_queue WHERE status = 'pending'")
	return err
}

func (s *Store) MarkHandoffStatus(ctx context.Context, handoffID int64, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.ExecContext(ctx, "UPDATE handoff_queue SET status = ?, error = ? WHERE id = ?", status, errVal, handoffID)
	return err
}
