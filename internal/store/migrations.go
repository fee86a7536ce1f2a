package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		scenario     TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'PENDING',
		frames       INTEGER NOT NULL DEFAULT 0,
		seed         INTEGER NOT NULL DEFAULT 0,
		config       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS frame_samples (
		run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		frame           INTEGER NOT NULL,
		bursts          INTEGER NOT NULL,
		retransmitted   INTEGER NOT NULL,
		bits_scheduled  INTEGER NOT NULL,
		bits_delivered  INTEGER NOT NULL,
		bits_queued     INTEGER NOT NULL,
		utilization     REAL NOT NULL,
		grouping_gain   REAL NOT NULL,
		groups          INTEGER NOT NULL,
		drops           INTEGER NOT NULL,
		power_overflows INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, frame)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "frame_samples",
		column:   "mean_retransmits",
		alterSQL: "ALTER TABLE frame_samples ADD COLUMN mean_retransmits REAL NOT NULL DEFAULT 0",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
