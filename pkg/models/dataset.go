package models

import (
	"fmt"
	"time"
)

const (
	// SampleSize is the number of leading rows used for type inference
	SampleSize = 100
	// NumericThreshold is the minimum share of numeric values for a numeric column
	NumericThreshold = 0.8
	// MaxSampleValues caps the example values kept per column
	MaxSampleValues = 5
	// PreviewSize is the number of parsed rows returned after an upload
	PreviewSize = 5
	// ResultLimit is the hard ceiling on rows returned by any query
	ResultLimit = 1000
	// MaxPageSize caps a single raw row page. Pages are not query results and may exceed
	// ResultLimit.
	MaxPageSize = 100000

	// RowKeyColumn is the internal column holding insertion order in every container.
	// It is reserved and may not appear in an uploaded header.
	RowKeyColumn = "__row__"
)

// ColumnKind is the inferred storage kind of a column
type ColumnKind string

const (
	ColumnKindNumeric ColumnKind = "numeric"
	ColumnKindText    ColumnKind = "text"
)

// IsValid reports whether the kind is one of the known kinds
func (k ColumnKind) IsValid() bool {
	return k == ColumnKindNumeric || k == ColumnKindText
}

// NumericStats summarizes the sampled values of a numeric column
type NumericStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// ColumnSchema describes a single inferred column
type ColumnSchema struct {
	Name         string        `json:"name"`
	Kind         ColumnKind    `json:"kind"`
	HasNulls     bool          `json:"has_nulls"`
	UniqueValues int           `json:"unique_values"`
	SampleValues []any         `json:"sample_values"`
	Stats        *NumericStats `json:"stats,omitempty"`
}

// Schema is the ordered column list of a dataset. Order follows the source header.
type Schema []ColumnSchema

// Column looks up a column by its exact name
func (s Schema) Column(name string) (ColumnSchema, bool) {
	for _, col := range s {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnSchema{}, false
}

// Names returns the column names in schema order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// Dataset is a registered, materialized collection of rows
type Dataset struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	StorageRef string    `json:"storage_ref"`
	Schema     Schema    `json:"schema"`
	RowCount   int64     `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Row maps a column name to a raw or typed value
type Row map[string]any

// IngestResult is returned to the uploader once a dataset is available
type IngestResult struct {
	Dataset *Dataset `json:"dataset"`
	Preview []Row    `json:"preview"`
}

// TableName returns the materialized container name for a dataset id.
// The name depends on the registry id only, never on user input.
func TableName(id int64) string {
	return fmt.Sprintf("dataset_%d", id)
}
