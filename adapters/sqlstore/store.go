// Package sqlstore persists coefficient tables to SQLite files or PostgreSQL
// databases in long format (one row per table row and channel).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"lmerkit/domain/core"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/migration"
	"lmerkit/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// IsPostgresDSN reports whether path names a PostgreSQL database
func IsPostgresDSN(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}

// Open connects to path: postgres:// DSNs go to lib/pq, anything else is a SQLite file
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	driver := "sqlite"
	if IsPostgresDSN(path) {
		driver = "postgres"
	}
	db, err := sqlx.ConnectContext(ctx, driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	return db, nil
}

// Store implements TableSink and TableSource over SQL databases.
// Each Save is a new run; Load returns the most recent run of a table.
type Store struct {
	migrator migration.Migrator
	logger   *internal.Logger
}

var (
	_ ports.TableSink   = (*Store)(nil)
	_ ports.TableSource = (*Store)(nil)
)

// NewStore creates a SQL store
func NewStore(logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Store{migrator: migration.NewRunner(), logger: logger.With("SQLStore")}
}

type runRecord struct {
	RunID     string `db:"run_id"`
	TableName string `db:"table_name"`
	Channels  string `db:"channels"`
	RowCount  int    `db:"row_count"`
	CreatedAt string `db:"created_at"`
}

type valueRecord struct {
	RowIdx  int             `db:"row_idx"`
	Time    float64         `db:"time_point"`
	Model   string          `db:"model"`
	Param   string          `db:"param"`
	StatKey string          `db:"stat_key"`
	Channel   string          `db:"channel"`
	Value     sql.NullFloat64 `db:"value"`
	NonFinite sql.NullString  `db:"nonfinite"`
}

// encodeValue stores finite values as numbers. Infinities go to the nonfinite
// column as "+Inf"/"-Inf"; NaN leaves both columns NULL.
func encodeValue(v float64) (sql.NullFloat64, sql.NullString) {
	switch {
	case math.IsNaN(v):
		return sql.NullFloat64{}, sql.NullString{}
	case math.IsInf(v, 0):
		return sql.NullFloat64{}, sql.NullString{String: strconv.FormatFloat(v, 'g', -1, 64), Valid: true}
	}
	return sql.NullFloat64{Float64: v, Valid: true}, sql.NullString{}
}

func decodeValue(rec valueRecord) (float64, error) {
	switch {
	case rec.Value.Valid:
		return rec.Value.Float64, nil
	case rec.NonFinite.Valid:
		v, err := strconv.ParseFloat(rec.NonFinite.String, 64)
		if err != nil || !math.IsInf(v, 0) {
			return 0, fmt.Errorf("bad nonfinite value %q at row %d", rec.NonFinite.String, rec.RowIdx)
		}
		return v, nil
	}
	return math.NaN(), nil
}

// Save writes the table as a new run. The run id comes from the context when
// the caller attached one.
func (s *Store) Save(ctx context.Context, target lmer.Target, table *lmer.CoefTable) error {
	if err := target.Validate(); err != nil {
		return err
	}
	db, err := Open(ctx, target.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := s.migrator.Run(ctx, db, target.Group); err != nil {
		return err
	}

	runID, ok := core.RunIDFromContext(ctx)
	if !ok {
		runID = core.NewRunID()
	}
	channels, err := json.Marshal(table.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO `+migration.RunsTable+` (
		run_id, table_name, channels, row_count, created_at
	) VALUES (
		:run_id, :table_name, :channels, :row_count, :created_at
	)`, runRecord{
		RunID:     runID.String(),
		TableName: target.Group,
		Channels:  string(channels),
		RowCount:  len(table.Rows),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(fmt.Sprintf(`INSERT INTO %s (
		run_id, row_idx, time_point, model, param, stat_key, channel, value, nonfinite
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, target.Group)))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range table.Rows {
		for j, ch := range table.Channels {
			v, special := encodeValue(r.Values[j])
			if _, err := stmt.ExecContext(ctx, runID.String(), i, r.Time, r.Model, r.Param, string(r.Key), ch, v, special); err != nil {
				return fmt.Errorf("failed to insert row %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", runID, err)
	}
	s.logger.Info("saved %d rows x %d channels to %s (run %s)", len(table.Rows), len(table.Channels), target.Group, runID)
	return nil
}

// Load returns the latest run saved to target.Group
func (s *Store) Load(ctx context.Context, target lmer.Target) (*lmer.CoefTable, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !migration.ValidTableName(target.Group) {
		return nil, fmt.Errorf("table name %q must be a plain SQL identifier", target.Group)
	}
	db, err := Open(ctx, target.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	// run ids are UUIDv7, so the lexically greatest is the newest
	var run runRecord
	err = db.GetContext(ctx, &run, db.Rebind(`SELECT run_id, table_name, channels, row_count, created_at
		FROM `+migration.RunsTable+` WHERE table_name = ? ORDER BY run_id DESC LIMIT 1`), target.Group)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no runs saved to %s", target.Group)
		}
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return s.loadRun(ctx, db, target.Group, run)
}

// loadRun pivots one run's long rows back into a coefficient table
func (s *Store) loadRun(ctx context.Context, db *sqlx.DB, table string, run runRecord) (*lmer.CoefTable, error) {
	var channels []string
	if err := json.Unmarshal([]byte(run.Channels), &channels); err != nil {
		return nil, fmt.Errorf("failed to decode channels of run %s: %w", run.RunID, err)
	}
	chanIdx := make(map[string]int, len(channels))
	for i, ch := range channels {
		chanIdx[ch] = i
	}

	var records []valueRecord
	err := db.SelectContext(ctx, &records, db.Rebind(fmt.Sprintf(`SELECT row_idx, time_point, model, param, stat_key, channel, value, nonfinite
		FROM %s WHERE run_id = ? ORDER BY row_idx`, table)), run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", run.RunID, err)
	}

	rows := make([]lmer.Row, run.RowCount)
	for i := range rows {
		rows[i].Values = make([]float64, len(channels))
		for j := range rows[i].Values {
			rows[i].Values[j] = math.NaN()
		}
	}
	for _, rec := range records {
		ci, ok := chanIdx[rec.Channel]
		if !ok || rec.RowIdx < 0 || rec.RowIdx >= len(rows) {
			return nil, fmt.Errorf("run %s has an out of range value (row %d, channel %q)", run.RunID, rec.RowIdx, rec.Channel)
		}
		r := &rows[rec.RowIdx]
		r.Time, r.Model, r.Param, r.Key = rec.Time, rec.Model, rec.Param, lmer.StatKey(rec.StatKey)
		v, err := decodeValue(rec)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		r.Values[ci] = v
	}

	out := lmer.NewCoefTable(channels)
	if err := out.Append(rows...); err != nil {
		return nil, err
	}
	return out, nil
}
