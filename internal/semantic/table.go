// Package semantic implements the semantic query compiler: named dimensions
// and measures over tabular sources, join-tree composition, and a grouped
// aggregation compiler that produces fan-out- and chasm-safe logical plans.
package semantic

import (
	"semlayer/internal/expr"
)

// Column describes one physical column of a source table. Type is the
// backend type name in lower case ("varchar", "integer", "double", "date",
// "timestamp", "varchar[]", ...). Array types end in "[]".
type Column struct {
	Name string
	Type string
}

// Dimension maps a relation to a scalar grouping column. A dimension's
// expression may reference raw columns of its table and dimensions defined
// before it on the same table.
type Dimension struct {
	Name string
	Expr expr.Expr

	IsTime        bool
	SmallestGrain Grain // "" when unconfigured
}

// Measure maps a relation to one aggregate scalar. A measure's expression
// may reference only raw columns of its own table; composition across
// measures or tables is expressed with CalculatedMeasure. UnnestPath names
// the array columns to flatten, outermost first, before the expression is
// valid.
type Measure struct {
	Name       string
	Expr       expr.Expr
	UnnestPath []string
}

// CalculatedMeasure derives a value from other measures via a MeasureExpr
// formula evaluated after aggregation.
type CalculatedMeasure struct {
	Name string
	Expr MeasureExpr
}

// Table is a named tabular source owning dimension, measure, and
// calculated-measure definitions. Define everything up front; tables are
// treated as immutable once composed into a Model.
type Table struct {
	name     string
	columns  []Column
	colTypes map[string]string

	dims     []Dimension
	measures []Measure
	calcs    []CalculatedMeasure
	index    map[string]FieldKind
}

// NewTable creates a table with the given column metadata.
func NewTable(name string, columns []Column) *Table {
	t := &Table{
		name:     name,
		columns:  columns,
		colTypes: make(map[string]string, len(columns)),
		index:    map[string]FieldKind{},
	}
	for _, c := range columns {
		t.colTypes[c.Name] = c.Type
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the table's column metadata in declaration order.
func (t *Table) Columns() []Column { return t.columns }

// ColumnType returns the declared type of a column, "" if unknown.
func (t *Table) ColumnType(name string) string { return t.colTypes[name] }

// DefineDimension registers a dimension. The expression may reference raw
// columns and previously defined dimensions of this table.
func (t *Table) DefineDimension(d Dimension) error {
	if err := t.checkName(d.Name); err != nil {
		return err
	}
	if d.Expr == nil {
		return ErrMalformedFilterSpec("dimension %q on table %q has no expression", d.Name, t.name)
	}
	if d.SmallestGrain != "" {
		if _, err := ParseGrain(string(d.SmallestGrain)); err != nil {
			return err
		}
	}
	if cols, ok := expr.Columns(d.Expr); ok {
		for col := range cols {
			if _, isCol := t.colTypes[col]; isCol {
				continue
			}
			if t.index[col] == KindDimension {
				continue
			}
			return ErrUnknownField("dimension %q on table %q references unknown column or dimension %q", d.Name, t.name, col)
		}
	}
	t.dims = append(t.dims, d)
	t.index[d.Name] = KindDimension
	return nil
}

// DefineMeasure registers a measure. The expression must be an aggregate
// over raw columns of this table only.
func (t *Table) DefineMeasure(m Measure) error {
	if err := t.checkName(m.Name); err != nil {
		return err
	}
	if m.Expr == nil || !expr.IsAggregate(m.Expr) {
		return ErrMalformedFilterSpec("measure %q on table %q must have an aggregate expression", m.Name, t.name)
	}
	if len(m.UnnestPath) > 0 {
		// Only the first path element is a raw column; deeper elements are
		// array fields of the structs the outer unnest exposes.
		if _, ok := t.colTypes[m.UnnestPath[0]]; !ok {
			return ErrUnknownField("measure %q on table %q unnests unknown column %q", m.Name, t.name, m.UnnestPath[0])
		}
	}
	if cols, ok := expr.Columns(m.Expr); ok {
		for col := range cols {
			if _, isCol := t.colTypes[col]; isCol {
				continue
			}
			if t.unnestExposes(m.UnnestPath, col) {
				continue
			}
			return ErrUnknownField("measure %q on table %q may only reference raw columns of its own table, got %q", m.Name, t.name, col)
		}
	}
	t.measures = append(t.measures, m)
	t.index[m.Name] = KindMeasure
	return nil
}

// DefineCalculatedMeasure registers a calculated measure. Reference
// resolution and cycle checks run at compile time against the enclosing
// namespace, so forward references between calculated measures are allowed.
func (t *Table) DefineCalculatedMeasure(c CalculatedMeasure) error {
	if err := t.checkName(c.Name); err != nil {
		return err
	}
	if c.Expr == nil {
		return ErrMalformedFilterSpec("calculated measure %q on table %q has no formula", c.Name, t.name)
	}
	t.calcs = append(t.calcs, c)
	t.index[c.Name] = KindCalculated
	return nil
}

func (t *Table) checkName(name string) error {
	if name == "" {
		return ErrMalformedFilterSpec("field on table %q has empty name", t.name)
	}
	if _, exists := t.index[name]; exists {
		return ErrAmbiguousField("duplicate field name %q on table %q", name, t.name)
	}
	return nil
}

// unnestExposes reports whether col becomes visible once path is unnested:
// either a struct-field access rooted at an unnested column ("items.price")
// or the rebound element name itself.
func (t *Table) unnestExposes(path []string, col string) bool {
	for _, arr := range path {
		if col == arr {
			return true
		}
		if len(col) > len(arr)+1 && col[:len(arr)] == arr && col[len(arr)] == '.' {
			return true
		}
	}
	return false
}

// dimension returns the named dimension, if defined.
func (t *Table) dimension(name string) (Dimension, bool) {
	for _, d := range t.dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// measure returns the named measure, if defined.
func (t *Table) measure(name string) (Measure, bool) {
	for _, m := range t.measures {
		if m.Name == name {
			return m, true
		}
	}
	return Measure{}, false
}

// calculated returns the named calculated measure, if defined.
func (t *Table) calculated(name string) (CalculatedMeasure, bool) {
	for _, c := range t.calcs {
		if c.Name == name {
			return c, true
		}
	}
	return CalculatedMeasure{}, false
}

// dimensionExpr returns the dimension's expression with references to
// earlier dimensions inlined, so the result mentions raw columns only.
// Dimensions resolve progressively in declaration order.
func (t *Table) dimensionExpr(name string) (expr.Expr, bool) {
	subs := map[string]expr.Expr{}
	for _, d := range t.dims {
		inlined := expr.Substitute(d.Expr, subs)
		if d.Name == name {
			return inlined, true
		}
		subs[d.Name] = inlined
	}
	return nil, false
}
