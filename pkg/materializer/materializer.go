// Package materializer turns an inferred schema and its rows into a queryable SQLite
// table. Rows land in a uniquely named staging table first and are promoted to their
// final dataset name inside the registry's transaction.
package materializer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mimir-aip/mimir-insight/pkg/inference"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

const (
	// StagingPrefix starts the name of every staging table
	StagingPrefix = "staging_"

	// DefaultBatchSize is the number of rows per multi-row INSERT
	DefaultBatchSize = 500

	// Bind parameter ceiling per statement, below SQLite's 32766 default
	maxBindVars = 32000
)

// Config configures a Materializer
type Config struct {
	BatchSize int
}

// Staging is a fully populated table awaiting promotion
type Staging struct {
	Name     string
	Schema   models.Schema
	RowCount int64
}

// Materializer creates, fills, promotes and drops dataset tables
type Materializer struct {
	store     *store.Store
	batchSize int
	logger    *logging.Logger
}

// New creates a materializer over the given store
func New(s *store.Store, cfg Config, logger *logging.Logger) *Materializer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Materializer{
		store:     s,
		batchSize: cfg.BatchSize,
		logger:    logging.OrDefault(logger),
	}
}

// ColumnType maps an inferred kind to its SQLite column type
func ColumnType(kind models.ColumnKind) string {
	if kind == models.ColumnKindNumeric {
		return "REAL"
	}
	return "TEXT"
}

// Stage creates a staging table for schema and inserts every row in order.
// The table, its bookkeeping entry and all rows are written in one transaction, so a
// failed insert leaves nothing behind.
func (m *Materializer) Stage(ctx context.Context, schema models.Schema, rows []models.Row) (*Staging, error) {
	if len(schema) == 0 {
		return nil, models.NewError(models.ErrorKindMaterialization, "schema has no columns")
	}

	staging := &Staging{
		Name:   StagingPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Schema: schema,
	}

	ddl, err := createTableSQL(staging.Name, schema)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindMaterialization, "invalid column name")
	}

	start := time.Now()
	err = m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO staging_containers (name, created_unix_nano) VALUES (?, ?)`,
			staging.Name, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("failed to record staging table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}
		n, err := m.insertRows(ctx, tx, staging.Name, schema, rows)
		if err != nil {
			return err
		}
		staging.RowCount = n
		return nil
	})
	if err != nil {
		m.logger.Error("Staging failed", err,
			logging.Component("materializer"),
			logging.String("staging", staging.Name))
		return nil, models.WrapError(err, models.ErrorKindMaterialization, "failed to materialize rows")
	}

	m.logger.Debug("Rows staged",
		logging.Component("materializer"),
		logging.String("staging", staging.Name),
		logging.Int64("rows", staging.RowCount),
		logging.Duration("duration", time.Since(start)))
	return staging, nil
}

func createTableSQL(table string, schema models.Schema) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(store.MustQuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(store.MustQuoteIdent(models.RowKeyColumn))
	b.WriteString(" INTEGER PRIMARY KEY")
	for _, col := range schema {
		quoted, err := store.QuoteIdent(col.Name)
		if err != nil {
			return "", err
		}
		b.WriteString(", ")
		b.WriteString(quoted)
		b.WriteString(" ")
		b.WriteString(ColumnType(col.Kind))
	}
	b.WriteString(")")
	return b.String(), nil
}

// insertSQL builds a multi-row INSERT for n rows
func insertSQL(table string, schema models.Schema, n int) string {
	cols := make([]string, 0, len(schema)+1)
	cols = append(cols, store.MustQuoteIdent(models.RowKeyColumn))
	for _, col := range schema {
		cols = append(cols, store.MustQuoteIdent(col.Name))
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(store.MustQuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

// insertRows writes rows sequentially in batches and stops at the first failure
func (m *Materializer) insertRows(ctx context.Context, tx *sqlx.Tx, table string, schema models.Schema, rows []models.Row) (int64, error) {
	perRow := len(schema) + 1
	batch := m.batchSize
	if batch*perRow > maxBindVars {
		batch = maxBindVars / perRow
	}
	if batch < 1 {
		return 0, fmt.Errorf("too many columns: %d", len(schema))
	}

	var full *sqlx.Stmt
	defer func() {
		if full != nil {
			full.Close()
		}
	}()

	args := make([]any, 0, batch*perRow)
	var inserted int64
	for startIdx := 0; startIdx < len(rows); startIdx += batch {
		end := startIdx + batch
		if end > len(rows) {
			end = len(rows)
		}

		args = args[:0]
		for i := startIdx; i < end; i++ {
			args = append(args, int64(i+1))
			for _, col := range schema {
				args = append(args, Coerce(col.Kind, rows[i][col.Name]))
			}
		}

		var err error
		if end-startIdx == batch {
			if full == nil {
				full, err = tx.PreparexContext(ctx, insertSQL(table, schema, batch))
				if err != nil {
					return inserted, fmt.Errorf("failed to prepare insert: %w", err)
				}
			}
			_, err = full.ExecContext(ctx, args...)
		} else {
			_, err = tx.ExecContext(ctx, insertSQL(table, schema, end-startIdx), args...)
		}
		if err != nil {
			return inserted, fmt.Errorf("failed to insert rows %d-%d: %w", startIdx+1, end, err)
		}
		inserted += int64(end - startIdx)
	}
	return inserted, nil
}

// Coerce converts a raw cell to the value stored for a column of the given kind.
// Null cells and numeric cells that do not parse are stored as NULL.
func Coerce(kind models.ColumnKind, v any) any {
	if inference.IsNull(v) {
		return nil
	}
	if kind == models.ColumnKindNumeric {
		f, ok := inference.ParseNumber(v)
		if !ok {
			return nil
		}
		return f
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

// Promote renames a staging table to its dataset name within tx and returns the
// storage reference. The name derives from datasetID only.
func (m *Materializer) Promote(ctx context.Context, tx *sqlx.Tx, staging *Staging, datasetID int64) (string, error) {
	if staging == nil || !strings.HasPrefix(staging.Name, StagingPrefix) {
		return "", models.NewError(models.ErrorKindMaterialization, "invalid staging table")
	}
	target := models.TableName(datasetID)

	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		store.MustQuoteIdent(staging.Name), store.MustQuoteIdent(target))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return "", models.WrapError(err, models.ErrorKindMaterialization, "failed to promote %s", staging.Name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_containers WHERE name = ?`, staging.Name); err != nil {
		return "", models.WrapError(err, models.ErrorKindMaterialization, "failed to clear staging record")
	}
	return target, nil
}

// Discard drops a staging table and its bookkeeping entry
func (m *Materializer) Discard(ctx context.Context, staging *Staging) error {
	if staging == nil {
		return nil
	}
	return m.dropStaging(ctx, staging.Name)
}

func (m *Materializer) dropStaging(ctx context.Context, name string) error {
	if !strings.HasPrefix(name, StagingPrefix) {
		return models.NewError(models.ErrorKindMaterialization, "refusing to drop %q", name)
	}
	return m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+store.MustQuoteIdent(name)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM staging_containers WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to clear staging record: %w", err)
		}
		return nil
	})
}

// SweepOrphans drops staging tables created more than olderThan ago and returns how
// many were removed. These are left behind when a process dies between staging and
// registration.
func (m *Materializer) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	var names []string
	if err := m.store.DB().SelectContext(ctx, &names,
		`SELECT name FROM staging_containers WHERE created_unix_nano <= ? ORDER BY created_unix_nano`, cutoff); err != nil {
		return 0, models.WrapError(err, models.ErrorKindPersistence, "failed to list staging tables")
	}

	swept := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if err := m.dropStaging(ctx, name); err != nil {
			m.logger.Warn("Failed to drop orphaned staging table",
				logging.Component("materializer"),
				logging.String("staging", name),
				logging.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		m.logger.Info("Swept orphaned staging tables",
			logging.Component("materializer"),
			logging.Int("count", swept))
	}
	return swept, nil
}

// Rows reads a page of a materialized table in insertion order. Values come back as
// float64, string or nil according to the column kinds in schema.
func (m *Materializer) Rows(ctx context.Context, storageRef string, schema models.Schema, limit, offset int) ([]models.Row, error) {
	table, err := store.QuoteIdent(storageRef)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindMaterialization, "invalid storage reference")
	}

	cols := make([]string, len(schema))
	for i, col := range schema {
		cols[i] = store.MustQuoteIdent(col.Name)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		strings.Join(cols, ", "), table, store.MustQuoteIdent(models.RowKeyColumn))

	rows, err := m.store.DB().QueryxContext(ctx, stmt, limit, offset)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to read %s", storageRef)
	}
	defer rows.Close()

	return ScanRows(rows, schema.Names())
}

// ScanRows reads every remaining row keyed by the given column names, which must
// match the selected columns in order. TEXT values are returned as strings.
func ScanRows(rows *sqlx.Rows, names []string) ([]models.Row, error) {
	out := []models.Row{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to scan row")
		}
		if len(values) != len(names) {
			return nil, models.NewError(models.ErrorKindPersistence, "expected %d columns, got %d", len(names), len(values))
		}
		row := make(models.Row, len(names))
		for i, name := range names {
			row[name] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to iterate rows")
	}
	return out, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
