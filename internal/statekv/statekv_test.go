package statekv

import (
	"context"
	"testing"
)

type fakeBackend struct {
	values map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: make(map[string]string)}
}

func (f *fakeBackend) GetState(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeBackend) SetState(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	s := NewSQLiteStore(backend)
	ctx := context.Background()

	v, err := s.Get(ctx, "last_sessionized_ts")
	if err != nil || v != "" {
		t.Fatalf("expected empty watermark before first write, got %q err %v", v, err)
	}
	if err := s.Set(ctx, "last_sessionized_ts", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("setting watermark: %v", err)
	}
	v, err = s.Get(ctx, "last_sessionized_ts")
	if err != nil {
		t.Fatalf("getting watermark: %v", err)
	}
	if v != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected watermark back, got %q", v)
	}
}
