package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-insight/pkg/inference"
	"github.com/mimir-aip/mimir-insight/pkg/materializer"
	"github.com/mimir-aip/mimir-insight/pkg/models"
	"github.com/mimir-aip/mimir-insight/pkg/registry"
	"github.com/mimir-aip/mimir-insight/pkg/store"
)

type fixture struct {
	store        *store.Store
	registry     *registry.Registry
	materializer *materializer.Materializer
	engine       *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "q.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := registry.New(s, nil)
	m := materializer.New(s, materializer.Config{}, nil)
	return &fixture{store: s, registry: reg, materializer: m, engine: NewEngine(s, reg, m, nil)}
}

func (f *fixture) load(t *testing.T, columns []string, rows []models.Row) *models.Dataset {
	t.Helper()
	ctx := context.Background()
	schema := inference.NewEngine(inference.Config{}).Infer(rows, columns)

	staging, err := f.materializer.Stage(ctx, schema, rows)
	require.NoError(t, err)
	return f.register(t, staging)
}

func (f *fixture) register(t *testing.T, staging *materializer.Staging) *models.Dataset {
	t.Helper()
	d, err := f.registry.Register(context.Background(), registry.Entry{
		Name:     "test",
		Filename: "test.csv",
		Schema:   staging.Schema,
		RowCount: staging.RowCount,
	}, func(ctx context.Context, tx *sqlx.Tx, id int64) (string, error) {
		return f.materializer.Promote(ctx, tx, staging, id)
	})
	require.NoError(t, err)
	return d
}

func salesRows() []models.Row {
	return []models.Row{
		{"cat": "a", "val": "10"},
		{"cat": "a", "val": "20"},
		{"cat": "b", "val": "5"},
	}
}

func TestExecuteGroupedSum(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())

	rows, err := f.engine.Execute(context.Background(), models.AggregationRequest{
		DatasetID: d.ID,
		GroupBy:   "cat",
		Aggregate: &models.Aggregate{Column: "val", Function: models.AggregateSum},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Row{
		{"cat": "a", "value": 30.0},
		{"cat": "b", "value": 5.0},
	}, rows)
}

func TestExecuteAggregatesWithoutGroup(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())
	ctx := context.Background()

	tests := []struct {
		fn     models.AggregateFunc
		column string
		want   float64
	}{
		{models.AggregateSum, "val", 35},
		{models.AggregateAvg, "val", 35.0 / 3},
		{models.AggregateMin, "val", 5},
		{models.AggregateMax, "val", 20},
		{models.AggregateCount, "cat", 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			rows, err := f.engine.Execute(ctx, models.AggregationRequest{
				DatasetID: d.ID,
				Aggregate: &models.Aggregate{Column: tt.column, Function: tt.fn},
			})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.InDelta(t, tt.want, rows[0][models.ValueKey], 1e-9)
		})
	}
}

func TestExecuteFilters(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())
	ctx := context.Background()

	rows, err := f.engine.Execute(ctx, models.AggregationRequest{
		DatasetID: d.ID,
		Filters:   []models.Filter{{Column: "val", Operator: models.OpGreater, Value: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Row{
		{"cat": "a", "val": 10.0},
		{"cat": "a", "val": 20.0},
	}, rows)

	rows, err = f.engine.Execute(ctx, models.AggregationRequest{
		DatasetID: d.ID,
		Aggregate: &models.Aggregate{Column: "val", Function: models.AggregateSum},
		Filters: []models.Filter{
			{Column: "cat", Operator: models.OpEqual, Value: "a"},
			{Column: "val", Operator: models.OpLessEqual, Value: "10"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Row{{"value": 10.0}}, rows)
}

func TestExecuteCapsResults(t *testing.T) {
	f := newFixture(t)
	rows := make([]models.Row, 1500)
	for i := range rows {
		rows[i] = models.Row{"id": fmt.Sprintf("k%04d", i), "n": fmt.Sprint(i)}
	}
	d := f.load(t, []string{"id", "n"}, rows)
	ctx := context.Background()

	raw, err := f.engine.Execute(ctx, models.AggregationRequest{DatasetID: d.ID})
	require.NoError(t, err)
	assert.Len(t, raw, models.ResultLimit)
	assert.Equal(t, "k0000", raw[0]["id"])

	grouped, err := f.engine.Execute(ctx, models.AggregationRequest{
		DatasetID: d.ID,
		GroupBy:   "id",
		Aggregate: &models.Aggregate{Column: "n", Function: models.AggregateCount},
	})
	require.NoError(t, err)
	assert.Len(t, grouped, models.ResultLimit)
}

func TestExecuteHostileColumnName(t *testing.T) {
	f := newFixture(t)
	hostile := `x"; DROP TABLE datasets; --`
	d := f.load(t, []string{hostile, "n"}, []models.Row{
		{hostile: "a", "n": "1"},
		{hostile: "a", "n": "2"},
	})

	rows, err := f.engine.Execute(context.Background(), models.AggregationRequest{
		DatasetID: d.ID,
		GroupBy:   hostile,
		Aggregate: &models.Aggregate{Column: "n", Function: models.AggregateSum},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Row{{hostile: "a", "value": 3.0}}, rows)

	list, err := f.registry.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1, "catalog intact")
}

func TestExecuteFilterValueIsBound(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())

	rows, err := f.engine.Execute(context.Background(), models.AggregationRequest{
		DatasetID: d.ID,
		Filters:   []models.Filter{{Column: "cat", Operator: models.OpEqual, Value: "a' OR '1'='1"}},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.AggregationRequest
	}{
		{"unknown group column", models.AggregationRequest{GroupBy: "nope", Aggregate: &models.Aggregate{Column: "val", Function: models.AggregateSum}}},
		{"group without aggregate", models.AggregationRequest{GroupBy: "cat"}},
		{"unknown aggregate column", models.AggregationRequest{Aggregate: &models.Aggregate{Column: "nope", Function: models.AggregateSum}}},
		{"unsupported function", models.AggregationRequest{Aggregate: &models.Aggregate{Column: "val", Function: "median"}}},
		{"injected function", models.AggregationRequest{Aggregate: &models.Aggregate{Column: "val", Function: "sum(val)); DROP TABLE datasets; --"}}},
		{"sum over text", models.AggregationRequest{Aggregate: &models.Aggregate{Column: "cat", Function: models.AggregateSum}}},
		{"unknown filter column", models.AggregationRequest{Filters: []models.Filter{{Column: "nope", Operator: models.OpEqual, Value: 1}}}},
		{"unsupported operator", models.AggregationRequest{Filters: []models.Filter{{Column: "val", Operator: "LIKE", Value: 1}}}},
		{"injected operator", models.AggregationRequest{Filters: []models.Filter{{Column: "val", Operator: "= 1 OR 1 =", Value: 1}}}},
		{"non-numeric value on numeric column", models.AggregationRequest{Filters: []models.Filter{{Column: "val", Operator: models.OpEqual, Value: "ten"}}}},
		{"missing value", models.AggregationRequest{Filters: []models.Filter{{Column: "cat", Operator: models.OpEqual}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.DatasetID = d.ID
			_, err := f.engine.Execute(ctx, tt.req)
			assert.True(t, models.IsKind(err, models.ErrorKindValidation), "got %v", err)
		})
	}
}

func TestExecuteNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Execute(context.Background(), models.AggregationRequest{DatasetID: 404})
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
}

func TestValidationHappensBeforeStorage(t *testing.T) {
	dataset := &models.Dataset{
		ID:         1,
		StorageRef: "dataset_1",
		Schema:     models.Schema{{Name: "v", Kind: models.ColumnKindNumeric}},
	}
	_, err := Build(dataset, models.AggregationRequest{GroupBy: "missing", Aggregate: &models.Aggregate{Column: "v", Function: models.AggregateSum}})
	assert.True(t, models.IsKind(err, models.ErrorKindValidation))
}

func TestBuild(t *testing.T) {
	dataset := &models.Dataset{
		ID:         7,
		StorageRef: "dataset_7",
		Schema: models.Schema{
			{Name: "region", Kind: models.ColumnKindText},
			{Name: "value", Kind: models.ColumnKindText},
			{Name: "amount", Kind: models.ColumnKindNumeric},
		},
	}

	stmt, err := Build(dataset, models.AggregationRequest{
		GroupBy:   "region",
		Aggregate: &models.Aggregate{Column: "amount", Function: models.AggregateAvg},
		Filters:   []models.Filter{{Column: "amount", Operator: models.OpGreaterEqual, Value: "2.5"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "region", AVG("amount") FROM "dataset_7" WHERE "amount" >= ? GROUP BY "region" ORDER BY "region" LIMIT 1000`, stmt.SQL)
	assert.Equal(t, []any{2.5}, stmt.Args)
	assert.Equal(t, []string{"region", "value"}, stmt.Columns)

	stmt, err = Build(dataset, models.AggregationRequest{
		GroupBy:   "value",
		Aggregate: &models.Aggregate{Column: "amount", Function: models.AggregateCount},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"group", "value"}, stmt.Columns)
}

func TestPage(t *testing.T) {
	f := newFixture(t)
	d := f.load(t, []string{"cat", "val"}, salesRows())
	ctx := context.Background()

	rows, err := f.engine.Page(ctx, d.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []models.Row{
		{"cat": "a", "val": 20.0},
		{"cat": "b", "val": 5.0},
	}, rows)

	rows, err = f.engine.Page(ctx, d.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "limit clamps up to 1")

	_, err = f.engine.Page(ctx, d.ID, 10, -1)
	assert.True(t, models.IsKind(err, models.ErrorKindValidation))

	_, err = f.engine.Page(ctx, 999, 10, 0)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound))
}

func TestPageBeyondResultLimit(t *testing.T) {
	f := newFixture(t)
	rows := make([]models.Row, 1500)
	for i := range rows {
		rows[i] = models.Row{"n": fmt.Sprint(i)}
	}
	d := f.load(t, []string{"n"}, rows)
	assert.Equal(t, int64(1500), d.RowCount)

	page, err := f.engine.Page(context.Background(), d.ID, 2000, 0)
	require.NoError(t, err)
	require.Len(t, page, 1500)
	assert.Equal(t, 0.0, page[0]["n"])
	assert.Equal(t, 1499.0, page[1499]["n"])

	// Queries stay capped
	all, err := f.engine.Execute(context.Background(), models.AggregationRequest{DatasetID: d.ID})
	require.NoError(t, err)
	assert.Len(t, all, models.ResultLimit)
}

func TestValidationErrorContext(t *testing.T) {
	schema := models.Schema{
		{Name: "cat", Kind: models.ColumnKindText},
		{Name: "val", Kind: models.ColumnKindNumeric},
	}
	tests := []struct {
		name string
		req  models.AggregationRequest
		want map[string]any
	}{
		{
			name: "unknown group column",
			req:  models.AggregationRequest{GroupBy: "nope", Aggregate: &models.Aggregate{Column: "val", Function: models.AggregateSum}},
			want: map[string]any{"column": "nope"},
		},
		{
			name: "non-numeric aggregate",
			req:  models.AggregationRequest{Aggregate: &models.Aggregate{Column: "cat", Function: models.AggregateAvg}},
			want: map[string]any{"column": "cat"},
		},
		{
			name: "second filter",
			req: models.AggregationRequest{Filters: []models.Filter{
				{Column: "cat", Operator: models.OpEqual, Value: "a"},
				{Column: "val", Operator: models.OpLess, Value: "many"},
			}},
			want: map[string]any{"filter": 1, "column": "val"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(schema, tt.req)
			var e *models.Error
			require.True(t, errors.As(err, &e), "got %v", err)
			assert.Equal(t, models.ErrorKindValidation, e.Kind)
			assert.Equal(t, tt.want, e.Context)
		})
	}
}

func TestStagedDataIsNotVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	columns := []string{"cat", "val"}
	schema := inference.NewEngine(inference.Config{}).Infer(salesRows(), columns)

	staging, err := f.materializer.Stage(ctx, schema, salesRows())
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, models.AggregationRequest{DatasetID: 1})
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound), "got %v", err)
	_, err = f.engine.Page(ctx, 1, 10, 0)
	assert.True(t, models.IsKind(err, models.ErrorKindNotFound), "got %v", err)
	list, err := f.registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	d := f.register(t, staging)
	rows, err := f.engine.Page(ctx, d.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	list, err = f.registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
