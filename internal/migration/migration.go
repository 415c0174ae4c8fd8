package migration

import (
	"context"
	"fmt"
	"regexp"

	"lmerkit/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB, table string) error
	Version() string
}

// RunsTable records every persisted run: its id, target table and channel order
const RunsTable = "lmer_runs"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be used unquoted as a table name
func ValidTableName(name string) bool {
	return identifier.MatchString(name) && name != RunsTable
}

// MigrationRunner creates the schema coefficient tables are stored in. The SQL
// is portable between PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run creates the runs table and the long-format coefficient table
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB, table string) error {
	if !ValidTableName(table) {
		return errors.InvalidInputf("table name %q must be a plain SQL identifier", table)
	}

	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create runs table")
	}

	if err := r.createCoefTable(ctx, db, table); err != nil {
		return errors.Wrapf(err, "failed to create %s table", table)
	}

	if err := r.createIndexes(ctx, db, table); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+RunsTable+` (
			run_id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			channels TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createCoefTable(ctx context.Context, db *sqlx.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			time_point DOUBLE PRECISION NOT NULL,
			model TEXT NOT NULL,
			param TEXT NOT NULL,
			stat_key TEXT NOT NULL,
			channel TEXT NOT NULL,
			value DOUBLE PRECISION,
			nonfinite TEXT
		)
	`, table))
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_run ON %s (run_id, row_idx)`, table, table))
	return err
}
