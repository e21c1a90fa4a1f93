package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one forward-only schema step.
type migration struct {
	version     int
	description string
	stmts       []string
}

// migrations are applied in order. Append only.
var migrations = []migration{
	{
		version:     1,
		description: "documents, elements and merges",
		stmts:       []string{schemaSQL},
	},
	{
		version:     2,
		description: "index elements by type and page",
		stmts: []string{
			"CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(document_id, type)",
			"CREATE INDEX IF NOT EXISTS idx_elements_page ON elements(document_id, page)",
		},
	},
	{
		version:     3,
		description: "add language column to documents",
		stmts: []string{
			"ALTER TABLE documents ADD COLUMN language TEXT NOT NULL DEFAULT ''",
		},
	},
}

const versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies every migration newer than the recorded version, each
// in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Debug("store: applying migration", "version", m.version, "description", m.description)
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_version (version, description) VALUES (?, ?)",
				m.version, m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a new database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}
