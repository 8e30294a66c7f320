package database

import (
	"testing"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail on empty database")
	}
}

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, MigrationsFS(nil)).ApplyMigrations(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	validator := NewSchemaValidator(db)
	if err := validator.Validate(); err != nil {
		t.Errorf("Validate should pass on migrated database: %v", err)
	}
	if err := validator.ValidateConstraints(); err != nil {
		t.Errorf("ValidateConstraints should pass: %v", err)
	}

	// Probing must not leave rows behind
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no probe rows, got %d", count)
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, MigrationsFS(nil)).ApplyMigrations(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(`DROP TABLE enrollments; CREATE TABLE enrollments (user_id TEXT, class_id INTEGER, active BOOLEAN)`); err != nil {
		t.Fatalf("recreate: %v", err)
	}

	if err := NewSchemaValidator(db).ValidateTableStructure(); err == nil {
		t.Error("Expected structure validation to fail on wrong class_id type")
	}
}
