package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a database carries the history schema
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	return v.ValidateTableStructure()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"history":           "Chat history storage",
		"schema_migrations": "Migration tracking",
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

// ValidateTableStructure verifies the history columns and their key order
// FUNCTIONAL DISCOVERY: (room, record_key) must be the primary key in that order,
// backlog reads are a reverse range scan over it
func (v *SchemaValidator) ValidateTableStructure() error {
	columns, err := v.columns("history")
	if err != nil {
		return fmt.Errorf("history table structure invalid: %w", err)
	}

	expected := []struct {
		name     string
		dataType string
		pk       int
	}{
		{"room", "TEXT", 1},
		{"record_key", "TEXT", 2},
		{"value", "TEXT", 0},
	}
	for _, want := range expected {
		got, ok := columns[want.name]
		if !ok {
			return fmt.Errorf("history table structure invalid: column %s not found", want.name)
		}
		if got.dataType != want.dataType {
			return fmt.Errorf("history table structure invalid: column %s has type %s, expected %s", want.name, got.dataType, want.dataType)
		}
		if got.pk != want.pk {
			return fmt.Errorf("history table structure invalid: column %s has key position %d, expected %d", want.name, got.pk, want.pk)
		}
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

type columnInfo struct {
	dataType string
	pk       int
}

func (v *SchemaValidator) columns(tableName string) (map[string]columnInfo, error) {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]columnInfo)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		found[name] = columnInfo{dataType: dataType, pk: pk}
	}
	return found, rows.Err()
}
