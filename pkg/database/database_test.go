package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/classchat.db" {
		t.Errorf("Expected DatabasePath './data/classchat.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.MigrationsPath != "" {
		t.Errorf("Expected embedded migrations by default, got %s", config.MigrationsPath)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
		{"negative retry delay", func(c *Config) { c.WriteRetryDelay = -time.Second }, true},
		{"zero retry delay", func(c *Config) { c.WriteRetryDelay = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationManager_ApplyEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	mgr := NewMigrationManager(db, MigrationsFS(nil))
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001" || versions[1] != "002" {
		t.Errorf("Expected versions [001 002], got %v", versions)
	}

	// Second run is a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Errorf("Re-applying migrations should be idempotent: %v", err)
	}
}

func TestMigrationManager_DirectoryOverride(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "001_test.sql"), []byte(`CREATE TABLE test_table (id TEXT PRIMARY KEY);`), 0644); err != nil {
		t.Fatalf("Failed to create test migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("Failed to write readme: %v", err)
	}

	mgr := NewMigrationManager(db, MigrationsFS(&Config{MigrationsPath: dir}))
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_table'").Scan(&count); err != nil {
		t.Fatalf("Failed to check if table exists: %v", err)
	}
	if count != 1 {
		t.Error("Test table should have been created")
	}
}

func TestMigrationManager_FailedMigrationNotRecorded(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "001_broken.sql"), []byte(`CREATE TABLE broken (;`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	mgr := NewMigrationManager(db, MigrationsFS(&Config{MigrationsPath: dir}))
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("Expected broken migration to fail")
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Expected no recorded versions, got %v", versions)
	}
}

func TestSchema_MessageIDsAreMonotonicAcrossRooms(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, MigrationsFS(nil)).ApplyMigrations(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var last int64
	for i, room := range []string{"a", "b", "a", "c"} {
		res, err := db.Exec(`INSERT INTO messages (room_id, sender_id, body, created_at) VALUES (?, 'u', 'hi', ?)`, room, time.Now())
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		id, _ := res.LastInsertId()
		if id <= last {
			t.Errorf("Expected increasing id, got %d after %d", id, last)
		}
		last = id
	}
}

func TestApplySQLiteOptimizations(t *testing.T) {
	db := openTestDB(t)
	if err := ApplySQLiteOptimizations(db); err != nil {
		t.Fatalf("ApplySQLiteOptimizations: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL journal mode, got %s", mode)
	}
}
