package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	tracking_key TEXT NOT NULL,
	thread_id    TEXT NOT NULL DEFAULT '',
	recipient    TEXT NOT NULL DEFAULT '',
	code         TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	strategy     TEXT NOT NULL DEFAULT 'NONE',
	dry_run      INTEGER NOT NULL DEFAULT 0,
	reference    TEXT NOT NULL DEFAULT '',
	occurred_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_key ON events(tracking_key);
CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_code ON events(code);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
