package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"
)

//go:embed schema.sql
var schemaSQL string

type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// migrations run in order, each in its own transaction together with its
// schema_migrations row.
var migrations = []migration{
	{1, "initial_schema", func(*sql.Tx) error { return nil }},
	{2, "system_session", seedSystemSession},
	{3, "worker_claim_columns", addWorkerClaimColumns},
}

// MigrationRecord is one applied migration.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt string
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion is the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return schemaVersion(s.db)
}

// AppliedMigrations lists applied migrations by version.
func (s *Store) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// seedSystemSession inserts the never-expiring session that system-level
// protocol entries are attributed to.
func seedSystemSession(tx *sql.Tx) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (token, job_number, system, operator, tenant, expires_at, created_at)
		VALUES (?, 0, 'SYSTEM', '000', '0000', 0, ?)
		ON CONFLICT(token) DO NOTHING
	`, SystemToken, time.Now().UnixMilli())
	return err
}

// addWorkerClaimColumns upgrades worker tables created before dispatch
// became a single conditional update.
func addWorkerClaimColumns(tx *sql.Tx) error {
	cols, err := columns(tx, "workers")
	if err != nil {
		return err
	}
	for _, col := range []string{"claimed", "exited"} {
		if cols[col] {
			continue
		}
		if _, err := tx.Exec(`ALTER TABLE workers ADD COLUMN ` + col + ` INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add workers.%s: %w", col, err)
		}
	}
	return nil
}

func columns(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}
