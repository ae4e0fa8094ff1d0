// Package query runs validated aggregate and filter queries against materialized
// datasets. Column names are checked against the catalog schema and quoted, and every
// filter value is bound as a parameter.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mimir-aip/mimir-insight/pkg/inference"
	"github.com/mimir-aip/mimir-insight/pkg/logging"
	"github.com/mimir-aip/mimir-insight/pkg/materializer"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

// Catalog resolves dataset ids to their metadata
type Catalog interface {
	Get(ctx context.Context, id int64) (*models.Dataset, error)
}

// Engine executes queries. It is safe for concurrent use.
type Engine struct {
	store        *store.Store
	catalog      Catalog
	materializer *materializer.Materializer
	logger       *logging.Logger
}

// NewEngine creates a query engine. Raw row pages are read through m.
func NewEngine(s *store.Store, catalog Catalog, m *materializer.Materializer, logger *logging.Logger) *Engine {
	return &Engine{store: s, catalog: catalog, materializer: m, logger: logging.OrDefault(logger)}
}

// Statement is a built query with its bound arguments and result column names
type Statement struct {
	SQL     string
	Args    []any
	Columns []string
}

// Execute validates req against the dataset schema and runs it. Results never exceed
// models.ResultLimit rows.
func (e *Engine) Execute(ctx context.Context, req models.AggregationRequest) ([]models.Row, error) {
	dataset, err := e.catalog.Get(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}

	stmt, err := Build(dataset, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.run(ctx, stmt)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Query executed",
		logging.Component("query"),
		logging.Int64("dataset_id", dataset.ID),
		logging.Int("rows", len(rows)),
		logging.Duration("duration", time.Since(start)))
	return rows, nil
}

// Page returns raw rows of a dataset in insertion order. limit is clamped to
// [1, models.MaxPageSize].
func (e *Engine) Page(ctx context.Context, datasetID int64, limit, offset int) ([]models.Row, error) {
	if offset < 0 {
		return nil, models.NewValidationError("offset must not be negative").WithContext("offset", offset)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > models.MaxPageSize {
		limit = models.MaxPageSize
	}

	dataset, err := e.catalog.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return e.materializer.Rows(ctx, dataset.StorageRef, dataset.Schema, limit, offset)
}

func (e *Engine) run(ctx context.Context, stmt *Statement) ([]models.Row, error) {
	rows, err := e.store.DB().QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "failed to run query")
	}
	defer rows.Close()
	return materializer.ScanRows(rows, stmt.Columns)
}

// Build validates req against dataset and produces the SQL to run. It does not touch
// storage.
func Build(dataset *models.Dataset, req models.AggregationRequest) (*Statement, error) {
	if err := Validate(dataset.Schema, req); err != nil {
		return nil, err
	}

	table, err := store.QuoteIdent(dataset.StorageRef)
	if err != nil {
		return nil, models.WrapError(err, models.ErrorKindPersistence, "dataset %d has no storage", dataset.ID)
	}

	where, args := buildWhere(dataset.Schema, req.Filters)
	stmt := &Statement{Args: args}

	var b strings.Builder
	switch {
	case req.GroupBy != "" && req.Aggregate != nil:
		group := store.MustQuoteIdent(req.GroupBy)
		fmt.Fprintf(&b, "SELECT %s, %s FROM %s%s GROUP BY %s ORDER BY %s",
			group, aggregateExpr(req.Aggregate), table, where, group, group)
		stmt.Columns = []string{GroupKey(req.GroupBy), models.ValueKey}
	case req.Aggregate != nil:
		fmt.Fprintf(&b, "SELECT %s FROM %s%s", aggregateExpr(req.Aggregate), table, where)
		stmt.Columns = []string{models.ValueKey}
	default:
		names := dataset.Schema.Names()
		fmt.Fprintf(&b, "SELECT %s FROM %s%s ORDER BY %s",
			quotedList(names), table, where, store.MustQuoteIdent(models.RowKeyColumn))
		stmt.Columns = names
	}
	fmt.Fprintf(&b, " LIMIT %d", models.ResultLimit)

	stmt.SQL = b.String()
	return stmt, nil
}

// GroupKey is the result key holding the group value. A group column literally named
// "value" would collide with the aggregate, so it is reported as "group".
func GroupKey(groupBy string) string {
	if groupBy == models.ValueKey {
		return "group"
	}
	return groupBy
}

// Validate checks a request against a schema without touching storage
func Validate(schema models.Schema, req models.AggregationRequest) error {
	if req.GroupBy != "" {
		if _, ok := schema.Column(req.GroupBy); !ok {
			return models.NewValidationError("unknown group_by column %q", req.GroupBy).
				WithContext("column", req.GroupBy)
		}
		if req.Aggregate == nil {
			return models.NewValidationError("group_by requires an aggregate")
		}
	}

	if agg := req.Aggregate; agg != nil {
		if !agg.Function.IsValid() {
			return models.NewValidationError("unsupported aggregate function %q", agg.Function).
				WithContext("function", string(agg.Function))
		}
		col, ok := schema.Column(agg.Column)
		if !ok {
			return models.NewValidationError("unknown aggregate column %q", agg.Column).
				WithContext("column", agg.Column)
		}
		if agg.Function.RequiresNumeric() && col.Kind != models.ColumnKindNumeric {
			return models.NewValidationError("%s requires a numeric column, %q is %s", agg.Function, agg.Column, col.Kind).
				WithContext("column", agg.Column)
		}
	}

	for i, f := range req.Filters {
		col, ok := schema.Column(f.Column)
		if !ok {
			return models.NewValidationError("filter %d: unknown column %q", i, f.Column).
				WithContext("filter", i).WithContext("column", f.Column)
		}
		if !f.Operator.IsValid() {
			return models.NewValidationError("filter %d: unsupported operator %q", i, f.Operator).
				WithContext("filter", i).WithContext("operator", string(f.Operator))
		}
		if f.Value == nil {
			return models.NewValidationError("filter %d: value is required", i).
				WithContext("filter", i).WithContext("column", f.Column)
		}
		if col.Kind == models.ColumnKindNumeric {
			if _, ok := inference.ParseNumber(f.Value); !ok {
				return models.NewValidationError("filter %d: %q is numeric, got %v", i, f.Column, f.Value).
					WithContext("filter", i).WithContext("column", f.Column)
			}
		}
	}
	return nil
}

func aggregateExpr(agg *models.Aggregate) string {
	col := store.MustQuoteIdent(agg.Column)
	// Function comes from the allow-list, so it is safe to inline
	return fmt.Sprintf("%s(%s)", strings.ToUpper(string(agg.Function)), col)
}

func buildWhere(schema models.Schema, filters []models.Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		clauses[i] = fmt.Sprintf("%s %s ?", store.MustQuoteIdent(f.Column), f.Operator)
		col, _ := schema.Column(f.Column)
		args[i] = bindValue(col.Kind, f.Value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func bindValue(kind models.ColumnKind, v any) any {
	if kind == models.ColumnKindNumeric {
		f, _ := inference.ParseNumber(v)
		return f
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = store.MustQuoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}
