package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collector/internal/observability"
)

type fakeBus struct {
	accept  bool
	received []map[string]any
}

func (f *fakeBus) Enqueue(raw map[string]any) bool {
	if !f.accept {
		return false
	}
	f.received = append(f.received, raw)
	return true
}

func TestHandleEventsAcceptsSingleObject(t *testing.T) {
	bus := &fakeBus{accept: true}
	s := New(Config{}, bus, nil, nil, nil)

	body := bytes.NewBufferString(`{"event_type":"os.foreground_changed"}`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	req.ContentLength = int64(body.Len())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(bus.received) != 1 {
		t.Fatalf("expected 1 event enqueued, got %d", len(bus.received))
	}
}

func TestHandleEventsAcceptsBatch(t *testing.T) {
	bus := &fakeBus{accept: true}
	s := New(Config{}, bus, nil, nil, nil)

	body := bytes.NewBufferString(`[{"event_type":"a"},{"event_type":"b"}]`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	req.ContentLength = int64(body.Len())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(bus.received) != 2 {
		t.Fatalf("expected 2 events enqueued, got %d", len(bus.received))
	}
}

func TestHandleEventsRejectsWhenQueueFull(t *testing.T) {
	bus := &fakeBus{accept: false}
	s := New(Config{}, bus, nil, nil, nil)

	body := bytes.NewBufferString(`{"event_type":"a"}`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	req.ContentLength = int64(body.Len())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestHandleEventsRequiresToken(t *testing.T) {
	bus := &fakeBus{accept: true}
	s := New(Config{Token: "secret"}, bus, nil, nil, nil)

	body := bytes.NewBufferString(`{"event_type":"a"}`)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	req.ContentLength = int64(body.Len())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	body2 := bytes.NewBufferString(`{"event_type":"a"}`)
	req2 := httptest.NewRequest(http.MethodPost, "/events", body2)
	req2.ContentLength = int64(body2.Len())
	req2.Header.Set("X-Collector-Token", "secret")
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", rec2.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := New(Config{}, &fakeBus{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp["ok"] {
		t.Fatalf("expected ok true, got %v", resp)
	}
}

type fakeStats struct{ snap observability.Snapshot }

func (f fakeStats) Snapshot(dbSizeBytes int64) observability.Snapshot {
	f.snap.DBSizeBytes = dbSizeBytes
	return f.snap
}

func TestHandleStats(t *testing.T) {
	s := New(Config{}, &fakeBus{}, fakeStats{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOptionsPreflight(t *testing.T) {
	s := New(Config{}, &fakeBus{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header set")
	}
}
