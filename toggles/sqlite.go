package toggles

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const toggleSchema = `
CREATE TABLE IF NOT EXISTS module_toggles (
	user_id   TEXT    NOT NULL,
	module_id TEXT    NOT NULL,
	enabled   INTEGER NOT NULL,
	PRIMARY KEY (user_id, module_id)
);`

// SQLiteStateStore persists toggle flags in a SQLite database.
type SQLiteStateStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed state store at path
// and applies the schema.
func OpenSQLite(path string) (*SQLiteStateStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite state store: path is required")
	}
	// modernc.org/sqlite takes pragmas as _pragma=name(value); the
	// mattn-style _journal_mode params are silently ignored by it.
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(toggleSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply toggle schema: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns every persisted flag for a user.
func (s *SQLiteStateStore) Load(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id, enabled FROM module_toggles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load toggles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var moduleID string
		var enabled int
		if err := rows.Scan(&moduleID, &enabled); err != nil {
			return nil, fmt.Errorf("scan toggle row: %w", err)
		}
		out[moduleID] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate toggle rows: %w", err)
	}
	return out, nil
}

// Save upserts one flag.
func (s *SQLiteStateStore) Save(ctx context.Context, userID, moduleID string, enabled bool) error {
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_toggles (user_id, module_id, enabled) VALUES (?, ?, ?)
		ON CONFLICT (user_id, module_id) DO UPDATE SET enabled = excluded.enabled`,
		userID, moduleID, flag)
	if err != nil {
		return fmt.Errorf("save toggle: %w", err)
	}
	return nil
}
