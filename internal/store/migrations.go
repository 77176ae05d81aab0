package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Schema versions:
// v1: runs table
const CurrentSchemaVersion = 1

// ErrSchemaTooNew is returned when the database was written by a newer pagerun.
var ErrSchemaTooNew = errors.New("history schema is newer than this pagerun")

// Migration adds one column to an existing table.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after v1, oldest first. Columns added
// to the runs table in later versions belong here as well as in initialize.
var pendingMigrations []Migration

// migrate brings an existing database to CurrentSchemaVersion.
func migrate(db *sql.DB, logger *zap.Logger) error {
	from := GetSchemaVersion(db)
	switch {
	case from > CurrentSchemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrSchemaTooNew, from, CurrentSchemaVersion)
	case from == CurrentSchemaVersion:
		return nil
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logger.Debug("migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}

	if err := SetSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return err
	}
	if from == 0 {
		logger.Debug("history schema initialized", zap.Int("version", CurrentSchemaVersion))
		return nil
	}
	logger.Info("history schema migrated",
		zap.Int("from", from),
		zap.Int("to", CurrentSchemaVersion),
		zap.Int("columns_added", applied))
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the schema version stored in PRAGMA user_version,
// 0 for a database pagerun has not initialized.
func GetSchemaVersion(db *sql.DB) int {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0
	}
	return version
}

// SetSchemaVersion records a new schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
