package statekv

import "context"

// sqliteBackend is the subset of storage.Store the SQLite-backed watermark
// store needs, kept narrow to avoid an import cycle between statekv and
// storage.
type sqliteBackend interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// SQLiteStore is the default backend: watermarks live in the same embedded
// database as the event log's state table, so a single-node collector needs
// no extra infrastructure.
type SQLiteStore struct {
	backend sqliteBackend
}

func NewSQLiteStore(backend sqliteBackend) *SQLiteStore {
	return &SQLiteStore{backend: backend}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	return s.backend.GetState(ctx, key)
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.backend.SetState(ctx, key, value)
}
