package storage

import (
	"path/filepath"
	"testing"

	"prepareup/internal/config"
)

func TestRebind(t *testing.T) {
	pg := &DB{Driver: "postgres"}
	if got := pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected postgres query %q", got)
	}
	lite := &DB{Driver: "sqlite3"}
	if got := lite.Rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite query should be unchanged, got %q", got)
	}
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	db, err := Open("sqlite3", config.DatabaseConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Running twice must be harmless.
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	for _, table := range []string{"users", "oauth_accounts", "refresh_tokens"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", config.DatabaseConfig{}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
