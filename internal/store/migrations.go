package store

import (
	"database/sql"
	"fmt"
)

// migration is a single schema change applied in order.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT NOT NULL UNIQUE,
	date_received TEXT NOT NULL DEFAULT (datetime('now')),
	date_processed TEXT,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	grade INTEGER,
	school TEXT,
	email TEXT NOT NULL,
	book_title TEXT NOT NULL,
	author TEXT NOT NULL,
	recommended_grades TEXT NOT NULL DEFAULT '',
	stars INTEGER,
	review_text TEXT NOT NULL,
	anonymous INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'approved', 'rejected')),
	admin_comment TEXT,
	time_earned REAL NOT NULL DEFAULT 0.5
);

CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_reviews_email ON reviews(email);
`,
	},
}

// migrate applies pending migrations based on PRAGMA user_version.
func migrate(conn *sql.DB) error {
	var current int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}

		// PRAGMA cannot take bind parameters.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("setting schema version %d: %w", m.version, err)
		}
	}

	return nil
}
