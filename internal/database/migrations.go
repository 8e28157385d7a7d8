package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    user_id TEXT NOT NULL,
    id TEXT NOT NULL,
    permalink TEXT,
    posted_at TEXT NOT NULL,
    formats TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    stats TEXT,
    imported_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    signals TEXT NOT NULL,
    updated_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS baseline_snapshots (
    user_id TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    snapshot TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    PRIMARY KEY (user_id, window_days)
);

CREATE TABLE IF NOT EXISTS answer_runs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    query TEXT NOT NULL,
    intent TEXT NOT NULL,
    passed INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    issues TEXT,
    used_fallback INTEGER NOT NULL DEFAULT 0,
    answer_text TEXT NOT NULL,
    pack TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_user_posted ON posts(user_id, posted_at);
CREATE INDEX IF NOT EXISTS idx_answer_runs_created ON answer_runs(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "answer run attempts",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE answer_runs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 1`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
