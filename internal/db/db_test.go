package db_test

import (
	"testing"

	"github.com/watson-creative/tracking-injector/internal/db"
	"github.com/watson-creative/tracking-injector/internal/testutil"
)

func TestMigrationsCreateSchema(t *testing.T) {
	database := testutil.SetupTestDB(t)

	var foreignKeysEnabled int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeysEnabled); err != nil {
		t.Fatalf("Failed to check foreign keys status: %v", err)
	}
	if foreignKeysEnabled != 1 {
		t.Errorf("Foreign keys should be enabled, got: %d", foreignKeysEnabled)
	}

	for _, table := range []string{"site_transients", "options", "installed_plugins", "plugin_installs"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)

	// A second run finds nothing to apply and must not fail.
	if err := db.RunMigrations(database, db.Migrations); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}
