// Package persistence provides database storage implementations.
package persistence

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tribridrag/tribridrag/internal/database"
	"gorm.io/gorm"
)

// PreMigrate handles one-time schema conversions from older deployments.
// Safe to run repeatedly — every step checks whether it still applies.
func PreMigrate(db database.Database) error {
	gdb := db.GORM()

	// Older deployments predate the dedup_key unique index on tasks;
	// without it the queue's upsert-on-conflict silently duplicates.
	migrator := gdb.Migrator()
	if migrator.HasTable("tasks") && !migrator.HasIndex(&TaskModel{}, "idx_tasks_dedup_key") {
		slog.Warn("one-time database migration: creating tasks.dedup_key unique index")
		stmts := []string{
			`DELETE FROM tasks WHERE id NOT IN (SELECT MIN(id) FROM tasks GROUP BY dedup_key)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_dedup_key ON tasks (dedup_key)`,
		}
		for _, stmt := range stmts {
			if err := gdb.Exec(stmt).Error; err != nil {
				return fmt.Errorf("tasks dedup_key index migration: %w", err)
			}
		}
		slog.Info("one-time database migration complete: tasks.dedup_key unique index created")
	}

	return nil
}

// AutoMigrate runs GORM auto migration for all models. The embedding
// and BM25 stores manage their own tables (they need backend-specific
// DDL the model layer can't express).
func AutoMigrate(db database.Database) error {
	return db.GORM().AutoMigrate(allModels()...)
}

// allModels returns every GORM model that AutoMigrate manages.
func allModels() []interface{} {
	return []interface{}{
		&ChunkModel{},
		&TaskModel{},
		&TaskStatusModel{},
	}
}

// ValidateSchema verifies every GORM model field has a corresponding column
// in the database. Returns an error listing any missing columns.
func ValidateSchema(db database.Database) error {
	gdb := db.GORM()
	migrator := gdb.Migrator()

	var missing []string
	for _, model := range allModels() {
		stmt := &gorm.Statement{DB: gdb}
		if err := stmt.Parse(model); err != nil {
			return fmt.Errorf("parse model schema: %w", err)
		}

		columnTypes, err := migrator.ColumnTypes(model)
		if err != nil {
			return fmt.Errorf("get column types for %s: %w", stmt.Table, err)
		}

		actual := make(map[string]bool, len(columnTypes))
		for _, ct := range columnTypes {
			actual[ct.Name()] = true
		}

		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" || field.DBName == "-" {
				continue
			}
			if !actual[field.DBName] {
				missing = append(missing, stmt.Table+"."+field.DBName)
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("schema validation failed — missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
