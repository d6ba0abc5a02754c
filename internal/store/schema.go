// Package store implements the persistent store (C2): durable
// session/event/snapshot storage with time- and agent-indexed retrieval
// and a retention sweeper. Grounded on the SQLite event-persistence layer
// from the broader example pack (mattn/go-sqlite3, WAL journal mode,
// schema-first table setup) rather than the teacher repo, which has no
// durable storage layer of its own.
package store

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	status TEXT NOT NULL,
	labels TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	agent_id TEXT,
	parent_event_id TEXT,
	correlation_id TEXT,
	type TEXT NOT NULL,
	phase TEXT,
	timestamp INTEGER NOT NULL,
	severity TEXT,
	canonical_json BLOB NOT NULL,
	checksum TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_agent_ts ON events(agent_id, timestamp);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	kind TEXT NOT NULL,
	parent_id TEXT,
	tags TEXT,
	description TEXT,
	compressed INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	data BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session_ts ON snapshots(session_id, timestamp);
`
