package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func rawConn(t *testing.T, path string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw connection: %v", err)
	}
	return conn
}

func TestMigrateFreshDatabase(t *testing.T) {
	db := openTestDB(t)

	v, err := schemaVersion(db.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if v != latestVersion() {
		t.Errorf("expected version %d after open, got %d", latestVersion(), v)
	}
}

func TestMigratePreVersioningDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// a database written before versioning: policies table present,
	// user_version never set
	raw := rawConn(t, path)
	_, err := raw.Exec(`CREATE TABLE policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	raw.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := schemaVersion(db.conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if v != latestVersion() {
		t.Errorf("expected stamped version %d, got %d", latestVersion(), v)
	}
}

func TestMigrateOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := first.InsertPolicy(testItem(1)); err != nil {
		t.Fatalf("insert before reopen: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	// data survives and the version cursor does not move
	stats, err := second.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalPolicies != 1 {
		t.Errorf("expected row to survive reopen, got %d rows", stats.TotalPolicies)
	}
	v, _ := schemaVersion(second.conn)
	if v != latestVersion() {
		t.Errorf("expected version %d after reopen, got %d", latestVersion(), v)
	}
}

func TestSchemaVersionDefaultsToZero(t *testing.T) {
	conn := rawConn(t, filepath.Join(t.TempDir(), "blank.db"))
	defer conn.Close()

	v, err := schemaVersion(conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("expected version 0 on an untouched database, got %d", v)
	}
}

func TestHasPoliciesTable(t *testing.T) {
	conn := rawConn(t, filepath.Join(t.TempDir(), "blank.db"))
	defer conn.Close()

	found, err := hasPoliciesTable(conn)
	if err != nil {
		t.Fatalf("hasPoliciesTable: %v", err)
	}
	if found {
		t.Error("expected no policies table on an empty database")
	}

	if _, err := conn.Exec("CREATE TABLE policies (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	found, err = hasPoliciesTable(conn)
	if err != nil {
		t.Fatalf("hasPoliciesTable: %v", err)
	}
	if !found {
		t.Error("expected policies table to be detected")
	}
}
