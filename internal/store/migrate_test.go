package store

import "testing"

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) < 1 {
		t.Fatalf("expected at least 1 migration, got %d", len(migrations))
	}
	if migrations[0].ID != "0001_initial_schema" {
		t.Fatalf("expected first migration to be 0001_initial_schema, got %q", migrations[0].ID)
	}
	if migrations[0].UpSQL == "" || migrations[0].DownSQL == "" {
		t.Fatalf("expected migration 0001_initial_schema to have both up and down SQL")
	}
}
