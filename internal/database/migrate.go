package database

import (
	"database/sql"
	"fmt"
	"log"
)

// schemaVersion reads the migration cursor kept in PRAGMA user_version.
func schemaVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return v, nil
}

// stampVersion records v as the applied schema version. modernc/sqlite
// rejects PRAGMA user_version inside a transaction, so the stamp lands after
// the migration commits; the DDL is idempotent, so a crash between the two
// just re-runs the migration on the next open.
func stampVersion(conn *sql.DB, v int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting user_version to %d: %w", v, err)
	}
	return nil
}

// hasPoliciesTable reports whether a policies table already exists. On a
// version-0 database that means the file predates schema versioning.
func hasPoliciesTable(conn *sql.DB) (bool, error) {
	var n int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'policies'",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return n > 0, nil
}

// migrate walks the database forward to the latest schema version. A
// pre-versioning database already carries the version-1 tables, so it is
// stamped at 1 instead of re-created.
func migrate(conn *sql.DB) error {
	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	if current == 0 {
		preVersioned, err := hasPoliciesTable(conn)
		if err != nil {
			return err
		}
		if preVersioned {
			log.Printf("stamping pre-versioning database as schema version 1")
			if err := stampVersion(conn, 1); err != nil {
				return err
			}
			current = 1
		}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		log.Printf("applying migration %d: %s", m.Version, m.Description)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}

		if err := stampVersion(conn, m.Version); err != nil {
			return err
		}
	}

	return nil
}
