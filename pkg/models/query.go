package models

// AggregateFunc is a supported aggregate function
type AggregateFunc string

const (
	AggregateSum   AggregateFunc = "sum"
	AggregateAvg   AggregateFunc = "avg"
	AggregateCount AggregateFunc = "count"
	AggregateMax   AggregateFunc = "max"
	AggregateMin   AggregateFunc = "min"
)

// IsValid reports whether the function is in the supported set
func (f AggregateFunc) IsValid() bool {
	switch f {
	case AggregateSum, AggregateAvg, AggregateCount, AggregateMax, AggregateMin:
		return true
	}
	return false
}

// RequiresNumeric reports whether the function only makes sense over numbers
func (f AggregateFunc) RequiresNumeric() bool {
	return f == AggregateSum || f == AggregateAvg
}

// FilterOperator is a comparison operator allowed in filters
type FilterOperator string

const (
	OpEqual        FilterOperator = "="
	OpNotEqual     FilterOperator = "!="
	OpLess         FilterOperator = "<"
	OpLessEqual    FilterOperator = "<="
	OpGreater      FilterOperator = ">"
	OpGreaterEqual FilterOperator = ">="
)

// IsValid reports whether the operator is on the allow-list
func (o FilterOperator) IsValid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Aggregate names the column and function to aggregate
type Aggregate struct {
	Column   string        `json:"column"`
	Function AggregateFunc `json:"function"`
}

// Filter is a single column comparison. Value is always bound, never inlined.
type Filter struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

// AggregationRequest describes an ad-hoc grouped query against one dataset
type AggregationRequest struct {
	DatasetID int64      `json:"dataset_id"`
	GroupBy   string     `json:"group_by,omitempty"`
	Aggregate *Aggregate `json:"aggregate,omitempty"`
	Filters   []Filter   `json:"filters,omitempty"`
}

// ValueKey is the result key holding the computed aggregate
const ValueKey = "value"
