package migrate_test

import (
	"testing"

	"venturemill/internal/db"
	"venturemill/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	before, err := migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if before != 0 {
		t.Fatalf("fresh database schema version = %d, want 0", before)
	}

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v1, err := migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v1 < 1 {
		t.Fatalf("schema version after migrate = %d, want >= 1", v1)
	}

	// a second run applies nothing and changes nothing
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v2, err := migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v2 != v1 {
		t.Fatalf("schema version changed on rerun: %d -> %d", v1, v2)
	}

	for _, table := range []string{"jobs", "stage_results", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
