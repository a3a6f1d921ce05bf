package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SchemaValidator checks a migrated database against what the queries in
// this package expect.
type SchemaValidator struct {
	db *sqlx.DB
}

func NewSchemaValidator(db *sqlx.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist fails on the first missing table.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range RequiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return errors.Wrapf(err, "checking table %s", table)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateIndexes fails on the first missing lookup index.
func (v *SchemaValidator) ValidateIndexes() error {
	indexes := []string{
		"idx_sessions_external_id",
		"idx_assignments_session",
		"idx_responses_student",
		"idx_responses_session",
	}
	for _, index := range indexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return errors.Wrapf(err, "checking index %s", index)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// Columns returns the column names of table in declaration order.
func (v *SchemaValidator) Columns(table string) ([]string, error) {
	var cols []struct {
		CID     int     `db:"cid"`
		Name    string  `db:"name"`
		Type    string  `db:"type"`
		NotNull bool    `db:"notnull"`
		Default *string `db:"dflt_value"`
		PK      int     `db:"pk"`
	}
	// table names cannot be bound as parameters
	if err := v.db.Select(&cols, fmt.Sprintf("PRAGMA table_info(%q)", table)); err != nil {
		return nil, errors.Wrapf(err, "reading columns of %s", table)
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
