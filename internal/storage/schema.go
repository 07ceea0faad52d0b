package storage

// schema is applied once at startup; every statement is idempotent so
// re-running it against an already-migrated database is a no-op, mirroring
// the teacher's CREATE TABLE IF NOT EXISTS migration style.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version TEXT NOT NULL,
	event_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	source TEXT NOT NULL,
	app TEXT NOT NULL,
	event_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	privacy_json TEXT NOT NULL,
	pid INTEGER,
	window_id TEXT,
	raw_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_priority_ts ON events(priority, ts);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	start_ts TEXT NOT NULL,
	end_ts TEXT NOT NULL,
	duration_sec INTEGER NOT NULL,
	summary_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_start_ts ON sessions(start_ts);
CREATE INDEX IF NOT EXISTS idx_sessions_end_ts ON sessions(end_ts);

CREATE TABLE IF NOT EXISTS routine_candidates (
	pattern_id TEXT PRIMARY KEY,
	pattern_json TEXT NOT NULL,
	support INTEGER NOT NULL,
	confidence REAL NOT NULL,
	last_seen_ts TEXT NOT NULL,
	evidence_session_ids TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routines_support_conf ON routine_candidates(support DESC, confidence DESC);
CREATE INDEX IF NOT EXISTS idx_routines_last_seen ON routine_candidates(last_seen_ts);

CREATE TABLE IF NOT EXISTS handoff_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	status TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	payload_size INTEGER NOT NULL,
	expires_at TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_handoff_status_created ON handoff_queue(status, created_at);

CREATE TABLE IF NOT EXISTS activity_details (
	app TEXT NOT NULL,
	title_hash TEXT NOT NULL,
	title_hint TEXT,
	first_seen_ts TEXT NOT NULL,
	last_seen_ts TEXT NOT NULL,
	total_duration_sec INTEGER NOT NULL DEFAULT 0,
	blocks INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (app, title_hash)
);
CREATE INDEX IF NOT EXISTS idx_activity_last_seen ON activity_details(last_seen_ts);

CREATE TABLE IF NOT EXISTS daily_summaries (
	date_local TEXT PRIMARY KEY,
	start_utc TEXT NOT NULL,
	end_utc TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	window_days INTEGER NOT NULL,
	payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pattern_summaries_created ON pattern_summaries(created_at);

CREATE TABLE IF NOT EXISTS llm_inputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	payload_size INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_inputs_created ON llm_inputs(created_at);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`
