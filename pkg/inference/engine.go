// Package inference classifies the columns of a row sample as numeric or text and
// summarizes their cardinality and nullability.
package inference

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/mimir-insight/pkg/models"
)

// Config configures the inference behavior
type Config struct {
	SampleSize      int     `json:"sample_size"`
	Threshold       float64 `json:"threshold"`
	MaxSampleValues int     `json:"max_sample_values"`
}

// Engine infers column schemas from a bounded sample
type Engine struct {
	config Config
}

// NewEngine creates a new inference engine, filling unset config values with defaults
func NewEngine(config Config) *Engine {
	if config.SampleSize <= 0 {
		config.SampleSize = models.SampleSize
	}
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = models.NumericThreshold
	}
	if config.MaxSampleValues <= 0 {
		config.MaxSampleValues = models.MaxSampleValues
	}
	return &Engine{config: config}
}

// Sample returns the leading rows used for inference
func (e *Engine) Sample(rows []models.Row) []models.Row {
	if len(rows) > e.config.SampleSize {
		return rows[:e.config.SampleSize]
	}
	return rows
}

// Infer classifies every column of the sample. Columns are taken from the columns
// argument when given (header order), otherwise from the keys of the first sampled row
// in sorted order. An empty sample yields an empty schema.
func (e *Engine) Infer(rows []models.Row, columns []string) models.Schema {
	sample := e.Sample(rows)
	if len(sample) == 0 {
		return models.Schema{}
	}

	if len(columns) == 0 {
		columns = make([]string, 0, len(sample[0]))
		for name := range sample[0] {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}

	schema := make(models.Schema, 0, len(columns))
	for _, name := range columns {
		schema = append(schema, e.analyzeColumn(name, sample))
	}
	return schema
}

// analyzeColumn analyzes a single column across the sampled rows
func (e *Engine) analyzeColumn(name string, rows []models.Row) models.ColumnSchema {
	col := models.ColumnSchema{
		Name:         name,
		Kind:         models.ColumnKindText,
		SampleValues: []any{},
	}

	var (
		nonNull int
		numbers []float64
		unique  = make(map[string]struct{})
	)

	for _, row := range rows {
		val, exists := row[name]
		if !exists || IsNull(val) {
			col.HasNulls = true
			continue
		}

		nonNull++
		unique[fmt.Sprintf("%v", val)] = struct{}{}
		if len(col.SampleValues) < e.config.MaxSampleValues {
			col.SampleValues = append(col.SampleValues, val)
		}
		if f, ok := ParseNumber(val); ok {
			numbers = append(numbers, f)
		}
	}

	col.UniqueValues = len(unique)

	if IsNumericShare(len(numbers), nonNull, e.config.Threshold) {
		col.Kind = models.ColumnKindNumeric
		col.Stats = summarize(numbers)
	}

	return col
}

// IsNumericShare reports whether numeric out of total values reaches threshold.
// A zero total is never numeric.
func IsNumericShare(numeric, total int, threshold float64) bool {
	if total == 0 {
		return false
	}
	ratio := float64(numeric) / float64(total)
	return ratio+1e-9 >= threshold
}

func summarize(values []float64) *models.NumericStats {
	if len(values) == 0 {
		return nil
	}
	stats := &models.NumericStats{
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		Mean: stat.Mean(values, nil),
	}
	if len(values) > 1 {
		stats.StdDev = stat.StdDev(values, nil)
	}
	return stats
}
