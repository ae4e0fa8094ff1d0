package inference

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-insight/pkg/models"
)

func rowsOf(column string, values ...any) []models.Row {
	rows := make([]models.Row, len(values))
	for i, v := range values {
		rows[i] = models.Row{column: v}
	}
	return rows
}

func TestInferClassifiesNumericAndText(t *testing.T) {
	rows := []models.Row{
		{"cat": "a", "val": "10", "note": nil},
		{"cat": "a", "val": "20", "note": "x"},
		{"cat": "b", "val": "5", "note": ""},
	}

	schema := NewEngine(Config{}).Infer(rows, []string{"cat", "val", "note"})
	require.Len(t, schema, 3)

	cat := schema[0]
	assert.Equal(t, "cat", cat.Name)
	assert.Equal(t, models.ColumnKindText, cat.Kind)
	assert.False(t, cat.HasNulls)
	assert.Equal(t, 2, cat.UniqueValues)
	assert.Equal(t, []any{"a", "a", "b"}, cat.SampleValues)
	assert.Nil(t, cat.Stats)

	val := schema[1]
	assert.Equal(t, models.ColumnKindNumeric, val.Kind)
	assert.Equal(t, 3, val.UniqueValues)
	require.NotNil(t, val.Stats)
	assert.Equal(t, 5.0, val.Stats.Min)
	assert.Equal(t, 20.0, val.Stats.Max)
	assert.InDelta(t, 35.0/3, val.Stats.Mean, 1e-9)

	note := schema[2]
	assert.True(t, note.HasNulls)
	assert.Equal(t, 1, note.UniqueValues)
	assert.Equal(t, []any{"x"}, note.SampleValues)
}

func TestInferThresholdBoundary(t *testing.T) {
	engine := NewEngine(Config{})

	// 4 of 5 numeric = exactly 80%
	atBoundary := rowsOf("v", "1", "2", "3", "4", "N/A")
	assert.Equal(t, models.ColumnKindNumeric, engine.Infer(atBoundary, []string{"v"})[0].Kind)

	// 79 of 100 numeric falls just below
	below := make([]any, 0, 100)
	for i := 0; i < 79; i++ {
		below = append(below, fmt.Sprint(i))
	}
	for i := 0; i < 21; i++ {
		below = append(below, "n/a")
	}
	assert.Equal(t, models.ColumnKindText, engine.Infer(rowsOf("v", below...), []string{"v"})[0].Kind)
}

func TestIsNumericShare(t *testing.T) {
	assert.True(t, IsNumericShare(800, 1000, 0.8))
	assert.False(t, IsNumericShare(799, 1000, 0.8))
	assert.True(t, IsNumericShare(8, 10, 0.8))
	assert.False(t, IsNumericShare(0, 0, 0.8), "zero denominator is not numeric")
	assert.True(t, IsNumericShare(1, 1, 1.0))
}

func TestInferAllNullColumnIsText(t *testing.T) {
	schema := NewEngine(Config{}).Infer(rowsOf("empty", nil, "", "  "), []string{"empty"})
	require.Len(t, schema, 1)
	assert.Equal(t, models.ColumnKindText, schema[0].Kind)
	assert.True(t, schema[0].HasNulls)
	assert.Equal(t, 0, schema[0].UniqueValues)
	assert.Empty(t, schema[0].SampleValues)
}

func TestInferEmptySample(t *testing.T) {
	assert.Empty(t, NewEngine(Config{}).Infer(nil, nil))
}

func TestInferUsesOnlyTheSample(t *testing.T) {
	values := make([]any, 0, 150)
	for i := 0; i < 100; i++ {
		values = append(values, "1")
	}
	for i := 0; i < 50; i++ {
		values = append(values, "text")
	}

	schema := NewEngine(Config{}).Infer(rowsOf("v", values...), []string{"v"})
	assert.Equal(t, models.ColumnKindNumeric, schema[0].Kind, "rows past the sample are ignored")
	assert.Equal(t, 1, schema[0].UniqueValues)

	small := NewEngine(Config{SampleSize: 2}).Sample(rowsOf("v", 1, 2, 3))
	assert.Len(t, small, 2)
}

func TestInferKeepsFiveSampleValuesInOrder(t *testing.T) {
	schema := NewEngine(Config{}).Infer(rowsOf("v", "g", "f", "e", "d", "c", "b", "a"), []string{"v"})
	assert.Equal(t, []any{"g", "f", "e", "d", "c"}, schema[0].SampleValues)
}

func TestInferWithoutColumnsIsDeterministic(t *testing.T) {
	rows := []models.Row{{"b": "1", "a": "x", "c": "2"}}
	engine := NewEngine(Config{})

	first := engine.Infer(rows, nil)
	second := engine.Infer(rows, nil)
	assert.Equal(t, []string{"a", "b", "c"}, first.Names())
	assert.Equal(t, first, second)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" -3.5 ", -3.5, true},
		{"1e3", 1000, true},
		{"0.25", 0.25, true},
		{12, 12, true},
		{int64(7), 7, true},
		{3.5, 3.5, true},
		{json.Number("8"), 8, true},
		{decimal.NewFromInt(9), 9, true},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"0x1p-2", 0, false},
		{"1,000", 0, false},
		{"N/A", 0, false},
		{"", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-12, "%#v", tt.in)
		}
	}
}
