// Package ingest implements the collector's HTTP surface: POST /events,
// GET /health, GET /stats, and permissive CORS preflight, grounded on
// original_source/main.py's IngestServer/IngestHandler and extended with
// token auth and the /stats endpoint per this module's expanded interface.
package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"collector/internal/observability"
)

// Bus is the subset of bus.EventBus the server needs.
type Bus interface {
	Enqueue(raw map[string]any) bool
}

// StatsSource is the subset of observability.Observability the /stats
// endpoint needs.
type StatsSource interface {
	Snapshot(dbSizeBytes int64) observability.Snapshot
}

// DBSizer reports the current on-disk database size for /stats.
type DBSizer interface {
	GetDBSize() int64
}

// Config configures the server's behavior beyond host:port binding.
type Config struct {
	Host  string
	Port  int
	Token string // when non-empty, requests must carry X-Collector-Token
}

type Server struct {
	cfg    Config
	bus    Bus
	stats  StatsSource
	sizer  DBSizer
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg Config, bus Bus, stats StatsSource, sizer DBSizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, bus: bus, stats: stats, sizer: sizer, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/events", s.withCORS(s.handleEvents))
	s.mux.HandleFunc("/health", s.withCORS(s.handleHealth))
	s.mux.HandleFunc("/stats", s.withCORS(s.handleStats))
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Collector-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	return r.Header.Get("X-Collector-Token") == s.cfg.Token
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	if r.ContentLength == 0 {
		writeJSON(w, http.StatusLengthRequired, map[string]any{"error": "missing content-length"})
		return
	}

	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	events, ok := normalizePayload(payload)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "payload must be object or list"})
		return
	}
	for _, ev := range events {
		if _, ok := ev.(map[string]any); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "event must be object"})
			return
		}
	}

	queued := 0
	for _, ev := range events {
		if !s.bus.Enqueue(ev.(map[string]any)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "queue full", "queued": queued})
			return
		}
		queued++
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "count": queued})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	var dbSize int64
	if s.sizer != nil {
		dbSize = s.sizer.GetDBSize()
	}
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{"db_size_bytes": dbSize})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot(dbSize))
}

func normalizePayload(payload any) ([]any, bool) {
	switch t := payload.(type) {
	case map[string]any:
		return []any{t}, true
	case []any:
		return t, true
	default:
		return nil, false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Addr returns the host:port the server is configured to bind.
func (c Config) Addr() string {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
