package postgres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	assertStatus := func(stage string, wantVersion int64, wantCount int) {
		t.Helper()
		version, count, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("%s: migration status: %v", stage, err)
		}
		if version != wantVersion || count != wantCount {
			t.Fatalf("%s: version=%d count=%d, want %d/%d", stage, version, count, wantVersion, wantCount)
		}
	}

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("reset: %v", err)
	}
	assertStatus("reset", 0, 0)

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("up one step: %v", err)
	}
	assertStatus("up one", 1, 1)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("up all: %v", err)
	}
	assertStatus("up all", 2, 2)

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("repeated up must be a no-op: %v", err)
	}
	assertStatus("repeated up", 2, 2)

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("down default step: %v", err)
	}
	assertStatus("down one", 1, 1)

	if err := store.MigrateDown(ctx, 5); err != nil {
		t.Fatalf("down rest: %v", err)
	}
	assertStatus("down rest", 0, 0)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("down on empty schema must be a no-op: %v", err)
	}
}

func TestMigrator_DetectsModifiedMigration(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx,
		`UPDATE cart_schema_migrations SET checksum = 'edited' WHERE version = 1`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}
	t.Cleanup(func() {
		plan, err := parseMigrations(embeddedMigrations, migrationsDir)
		if err != nil {
			return
		}
		_, _ = store.DB().ExecContext(context.Background(),
			`UPDATE cart_schema_migrations SET checksum = $1 WHERE version = 1`, plan[0].checksum)
	})

	if err := store.MigrateUp(ctx, 0); !errors.Is(err, ErrMigrationDrift) {
		t.Fatalf("expected ErrMigrationDrift, got %v", err)
	}
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if _, _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}

	store := &Store{db: nil}
	if err := store.migrate(ctx, migrationDirection("sideways"), 0); err == nil {
		t.Fatal("expected error")
	}
}
