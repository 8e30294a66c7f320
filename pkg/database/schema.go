package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every structural check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"messages":            "Message log",
		"message_reactions":   "Reaction sets",
		"message_reads":       "Read receipts",
		"teacher_assignments": "Teacher authorization relation",
		"enrollments":         "Student authorization relation",
		"schema_migrations":   "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"messages": {
			"id":          "INTEGER",
			"room_id":     "TEXT",
			"sender_id":   "TEXT",
			"body":        "TEXT",
			"kind":        "TEXT",
			"reply_to_id": "INTEGER",
			"created_at":  "DATETIME",
			"edited_at":   "DATETIME",
			"is_deleted":  "BOOLEAN",
			"deleted_at":  "DATETIME",
		},
		"message_reactions": {
			"message_id": "INTEGER",
			"emoji":      "TEXT",
			"user_id":    "TEXT",
		},
		"message_reads": {
			"message_id": "INTEGER",
			"user_id":    "TEXT",
			"read_at":    "DATETIME",
		},
		"teacher_assignments": {
			"user_id":  "TEXT",
			"class_id": "TEXT",
			"subject":  "TEXT",
			"active":   "BOOLEAN",
		},
		"enrollments": {
			"user_id":  "TEXT",
			"class_id": "TEXT",
			"active":   "BOOLEAN",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_room_id":          "History window by room",
		"idx_teacher_assignments_class": "Teacher gate lookup",
		"idx_enrollments_class":         "Student gate lookup",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that database constraints are enforced
// ARCHITECTURAL DISCOVERY: Probing with rows inside a rolled-back transaction
// leaves the AUTOINCREMENT sequence and data untouched
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO message_reactions (message_id, emoji, user_id, created_at)
		VALUES (-1, 'x', 'probe', ?)
	`, time.Now())
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: message_reactions.message_id")
	}

	_, err = tx.Exec(`
		INSERT INTO messages (room_id, sender_id, body, kind, created_at)
		VALUES ('probe', 'probe', 'probe', 'invalid_kind', ?)
	`, time.Now())
	if err == nil {
		return fmt.Errorf("check constraint not enforced: message kind validation")
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
