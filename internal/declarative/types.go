// Package declarative loads semantic models from YAML files. Each file is a
// versioned document describing one model: its tables, dimensions, measures,
// calculated measures, and the join tree composing them.
package declarative

// SupportedAPIVersion is the only apiVersion this loader accepts.
const SupportedAPIVersion = "semlayer/v1"

// KindNameModel is the document kind for a semantic model.
const KindNameModel = "Model"

// Aggregation type names accepted in measure definitions.
const (
	MeasureTypeSum           = "SUM"
	MeasureTypeCount         = "COUNT"
	MeasureTypeCountDistinct = "COUNT_DISTINCT"
	MeasureTypeAverage       = "AVG"
	MeasureTypeMin           = "MIN"
	MeasureTypeMax           = "MAX"
)

// Cardinality names accepted in join definitions.
const (
	CardinalityOneToOne  = "ONE_TO_ONE"
	CardinalityOneToMany = "ONE_TO_MANY"
	CardinalityCross     = "CROSS"
)

// ModelDoc is the top-level YAML document for a model.
type ModelDoc struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Metadata   Metadata  `yaml:"metadata"`
	Spec       ModelSpec `yaml:"spec"`
}

// Metadata carries the document name, which must match the file name.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// ModelSpec is the body of a model document.
type ModelSpec struct {
	Tables []TableSpec   `yaml:"tables"`
	Join   *JoinNodeSpec `yaml:"join,omitempty"`
}

// TableSpec declares one source table with its semantic fields.
type TableSpec struct {
	Name       string           `yaml:"name"`
	Columns    []ColumnSpec     `yaml:"columns"`
	Dimensions []DimensionSpec  `yaml:"dimensions,omitempty"`
	Measures   []MeasureSpec    `yaml:"measures,omitempty"`
	Calculated []CalculatedSpec `yaml:"calculated,omitempty"`
}

// ColumnSpec declares a physical column.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// DimensionSpec declares a grouping field. Exactly one of Column and SQL
// must be set; SQL is an opaque expression over the table's columns.
type DimensionSpec struct {
	Name          string `yaml:"name"`
	Column        string `yaml:"column,omitempty"`
	SQL           string `yaml:"sql,omitempty"`
	Time          bool   `yaml:"time,omitempty"`
	SmallestGrain string `yaml:"smallestGrain,omitempty"`
}

// MeasureSpec declares an aggregate field. Type picks the aggregation;
// exactly one of Column and SQL supplies the operand, except COUNT which
// may omit both (row count). Unnest lists array columns to flatten before
// aggregating, outermost first.
type MeasureSpec struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Column string   `yaml:"column,omitempty"`
	SQL    string   `yaml:"sql,omitempty"`
	Unnest []string `yaml:"unnest,omitempty"`
}

// CalculatedSpec declares a measure derived from other measures. Exactly
// one of Ratio, ShareOfTotal, and Formula must be set.
type CalculatedSpec struct {
	Name         string       `yaml:"name"`
	Ratio        *RatioSpec   `yaml:"ratio,omitempty"`
	ShareOfTotal string       `yaml:"shareOfTotal,omitempty"`
	Formula      *FormulaSpec `yaml:"formula,omitempty"`
}

// RatioSpec is the numerator/denominator shorthand for a division formula.
type RatioSpec struct {
	Numerator   string `yaml:"numerator"`
	Denominator string `yaml:"denominator"`
}

// FormulaSpec is a recursive formula node. Exactly one field must be set:
// Ref names a measure, Value is a constant, Total names a base measure whose
// grand total is broadcast, and the arithmetic fields combine two operands.
type FormulaSpec struct {
	Ref   string   `yaml:"ref,omitempty"`
	Value *float64 `yaml:"value,omitempty"`
	Total string   `yaml:"total,omitempty"`

	Add *BinarySpec `yaml:"add,omitempty"`
	Sub *BinarySpec `yaml:"sub,omitempty"`
	Mul *BinarySpec `yaml:"mul,omitempty"`
	Div *BinarySpec `yaml:"div,omitempty"`
}

// BinarySpec holds the operands of an arithmetic formula node.
type BinarySpec struct {
	Left  FormulaSpec `yaml:"left"`
	Right FormulaSpec `yaml:"right"`
}

// JoinNodeSpec is a recursive join-tree node: either a leaf table reference
// or a join of two subtrees. Exactly one of Table and Join must be set.
type JoinNodeSpec struct {
	Table string        `yaml:"table,omitempty"`
	Join  *JoinEdgeSpec `yaml:"join,omitempty"`
}

// JoinEdgeSpec joins two subtrees. For ONE_TO_MANY the left side is the
// "one" side. CROSS joins carry no conditions.
type JoinEdgeSpec struct {
	Left        JoinNodeSpec   `yaml:"left"`
	Right       JoinNodeSpec   `yaml:"right"`
	Cardinality string         `yaml:"cardinality"`
	On          []JoinCondSpec `yaml:"on,omitempty"`
}

// JoinCondSpec equates a field of the left subtree with one of the right.
type JoinCondSpec struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}
