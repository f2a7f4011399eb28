package semantic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"semlayer/internal/expr"
)

// Operator is a comparison operator in a filter.
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpGe        Operator = ">="
	OpLt        Operator = "<"
	OpLe        Operator = "<="
	OpIn        Operator = "in"
	OpNotIn     Operator = "not in"
	OpLike      Operator = "like"
	OpNotLike   Operator = "not like"
	OpILike     Operator = "ilike"
	OpNotILike  Operator = "not ilike"
	OpIsNull    Operator = "is null"
	OpIsNotNull Operator = "is not null"
)

var supportedOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGe: true, OpLt: true, OpLe: true,
	OpIn: true, OpNotIn: true, OpLike: true, OpNotLike: true,
	OpILike: true, OpNotILike: true, OpIsNull: true, OpIsNotNull: true,
}

// Filter is a normalized predicate: a comparison, a compound, or an opaque
// raw fragment.
type Filter interface {
	isFilter()
}

// Comparison compares a semantic field against a value or value list.
type Comparison struct {
	Field  string
	Op     Operator
	Value  any
	Values []any
}

// CompoundOp is AND or OR.
type CompoundOp string

const (
	CompoundAnd CompoundOp = "and"
	CompoundOr  CompoundOp = "or"
)

// Compound combines child filters with AND/OR.
type Compound struct {
	Op      CompoundOp
	Filters []Filter
}

// RawFilter is an opaque SQL predicate. It is never pushed below a join and
// disables projection pruning for the query, mirroring the conservative
// treatment of unanalyzable expressions.
type RawFilter struct {
	SQL string
}

func (Comparison) isFilter() {}
func (Compound) isFilter()   {}
func (RawFilter) isFilter()  {}

// Normalize unifies the accepted filter spellings into one Filter tree:
// an already-built Filter, a structured map ({"field","operator","value(s)"}
// or {"and": [...]}/{"or": [...]}), or a string expression
// ("region = 'West'"). Validation is strict: unknown operators, wrong value
// shapes, and empty compounds fail fast.
func Normalize(spec any) (Filter, error) {
	switch s := spec.(type) {
	case nil:
		return nil, ErrMalformedFilterSpec("nil filter spec")
	case Filter:
		if err := validateFilter(s); err != nil {
			return nil, err
		}
		return s, nil
	case map[string]any:
		return normalizeMap(s)
	case string:
		return parseStringFilter(s)
	default:
		return nil, ErrMalformedFilterSpec("unsupported filter spec type %T", spec)
	}
}

func validateFilter(f Filter) error {
	switch t := f.(type) {
	case Comparison:
		return validateComparison(t)
	case Compound:
		if t.Op != CompoundAnd && t.Op != CompoundOr {
			return ErrUnsupportedFilterOperator("unsupported compound operator %q", t.Op)
		}
		if len(t.Filters) == 0 {
			return ErrEmptyCompoundFilter("%s filter requires at least one child", strings.ToUpper(string(t.Op)))
		}
		for _, c := range t.Filters {
			if err := validateFilter(c); err != nil {
				return err
			}
		}
		return nil
	case RawFilter:
		if strings.TrimSpace(t.SQL) == "" {
			return ErrMalformedFilterSpec("raw filter has empty SQL")
		}
		return nil
	default:
		return ErrMalformedFilterSpec("unsupported filter node %T", f)
	}
}

func validateComparison(c Comparison) error {
	if c.Field == "" {
		return ErrMalformedFilterSpec("comparison filter is missing a field")
	}
	if !supportedOperators[c.Op] {
		return ErrUnsupportedFilterOperator("unsupported filter operator %q", c.Op)
	}
	switch c.Op {
	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return ErrMalformedFilterSpec("%s filter on %q requires a non-empty value list", c.Op, c.Field)
		}
		if c.Value != nil {
			return ErrMalformedFilterSpec("%s filter on %q takes a value list, not a single value", c.Op, c.Field)
		}
	case OpIsNull, OpIsNotNull:
		if c.Value != nil || len(c.Values) > 0 {
			return ErrMalformedFilterSpec("%s filter on %q does not take a value", c.Op, c.Field)
		}
	default:
		if len(c.Values) > 0 {
			return ErrMalformedFilterSpec("%s filter on %q takes a single value, not a list", c.Op, c.Field)
		}
		if c.Value == nil {
			return ErrMalformedFilterSpec("%s filter on %q is missing a value", c.Op, c.Field)
		}
	}
	return nil
}

func normalizeMap(spec map[string]any) (Filter, error) {
	if children, ok := spec["and"]; ok {
		return normalizeCompound(CompoundAnd, children)
	}
	if children, ok := spec["or"]; ok {
		return normalizeCompound(CompoundOr, children)
	}

	field, _ := spec["field"].(string)
	opStr, _ := spec["operator"].(string)
	if field == "" || opStr == "" {
		return nil, ErrMalformedFilterSpec("structured filter requires \"field\" and \"operator\" keys")
	}
	c := Comparison{Field: field, Op: Operator(strings.ToLower(strings.TrimSpace(opStr)))}
	if v, ok := spec["value"]; ok {
		c.Value = v
	}
	if vs, ok := spec["values"]; ok {
		list, ok := vs.([]any)
		if !ok {
			return nil, ErrMalformedFilterSpec("\"values\" for field %q must be a list", field)
		}
		c.Values = list
	}
	if err := validateComparison(c); err != nil {
		return nil, err
	}
	return c, nil
}

func normalizeCompound(op CompoundOp, children any) (Filter, error) {
	list, ok := children.([]any)
	if !ok {
		return nil, ErrMalformedFilterSpec("%q filter children must be a list", op)
	}
	if len(list) == 0 {
		return nil, ErrEmptyCompoundFilter("%s filter requires at least one child", strings.ToUpper(string(op)))
	}
	out := Compound{Op: op}
	for _, child := range list {
		f, err := Normalize(child)
		if err != nil {
			return nil, err
		}
		out.Filters = append(out.Filters, f)
	}
	return out, nil
}

// parseStringFilter handles the "<field> <operator> <literal>" shorthand.
// Multi-word operators are matched longest first; anything unparseable is a
// MalformedFilterSpecError rather than being passed through as raw SQL.
func parseStringFilter(s string) (Filter, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, ErrMalformedFilterSpec("empty filter expression")
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return nil, ErrMalformedFilterSpec("cannot parse filter expression %q", s)
	}
	field := fields[0]
	rest := strings.TrimSpace(trimmed[len(field):])

	// Longest operators first so "not in" wins over "in", "is not null"
	// over "is null".
	ordered := []Operator{
		OpIsNotNull, OpIsNull, OpNotILike, OpNotLike, OpNotIn,
		OpILike, OpLike, OpIn, OpGe, OpLe, OpNe, OpGt, OpLt, OpEq,
	}
	lower := strings.ToLower(rest)
	for _, op := range ordered {
		if !strings.HasPrefix(lower, string(op)) {
			continue
		}
		tail := strings.TrimSpace(rest[len(op):])
		c := Comparison{Field: field, Op: op}
		switch op {
		case OpIsNull, OpIsNotNull:
			if tail != "" {
				return nil, ErrMalformedFilterSpec("%s filter on %q does not take a value", op, field)
			}
		case OpIn, OpNotIn:
			vals, err := parseLiteralList(tail)
			if err != nil {
				return nil, err
			}
			c.Values = vals
		default:
			v, err := parseLiteral(tail)
			if err != nil {
				return nil, err
			}
			c.Value = v
		}
		if err := validateComparison(c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, ErrUnsupportedFilterOperator("cannot parse operator in filter expression %q", s)
}

func parseLiteralList(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, ErrMalformedFilterSpec("value list must be parenthesized, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, ErrMalformedFilterSpec("value list is empty")
	}
	var out []any
	for _, part := range strings.Split(inner, ",") {
		v, err := parseLiteral(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, ErrMalformedFilterSpec("filter expression is missing a value")
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return nil, ErrMalformedFilterSpec("cannot parse filter literal %q", s)
}

// filterTables classifies a filter by the set of tables its fields touch.
// The second return is false when the filter contains a raw fragment, which
// cannot be classified and must be applied to the whole join tree.
func (m *Model) filterTables(f Filter) (map[string]bool, bool, error) {
	tables := map[string]bool{}
	analyzable := true

	var walk func(f Filter) error
	walk = func(f Filter) error {
		switch t := f.(type) {
		case Comparison:
			ref, err := m.Resolve(t.Field)
			if err != nil {
				return err
			}
			if ref.Kind != KindDimension {
				return ErrMalformedFilterSpec("filters may only reference dimensions, %q is a %s", t.Field, ref.Kind)
			}
			tables[ref.Table.name] = true
			return nil
		case Compound:
			for _, c := range t.Filters {
				if err := walk(c); err != nil {
					return err
				}
			}
			return nil
		case RawFilter:
			analyzable = false
			return nil
		default:
			return ErrMalformedFilterSpec("unsupported filter node %T", f)
		}
	}
	if err := walk(f); err != nil {
		return nil, false, err
	}
	return tables, analyzable, nil
}

// filterExpr lowers a filter to a scalar predicate. Dimension references
// become their inlined expressions qualified by owning table; literals
// compared against date/timestamp columns are coerced to time values so
// strict backends do not compare across types.
func (m *Model) filterExpr(f Filter) (expr.Expr, error) {
	switch t := f.(type) {
	case Comparison:
		ref, err := m.Resolve(t.Field)
		if err != nil {
			return nil, err
		}
		inlined, _ := ref.Table.dimensionExpr(ref.Dim.Name)
		left := expr.Qualify(inlined, ref.Table.name)
		colType := m.dimensionColumnType(ref)

		switch t.Op {
		case OpIsNull:
			return expr.Binary{Op: expr.OpIsNull, Left: left}, nil
		case OpIsNotNull:
			return expr.Binary{Op: expr.OpIsNotNull, Left: left}, nil
		case OpIn, OpNotIn:
			items := make([]expr.Expr, len(t.Values))
			for i, v := range t.Values {
				coerced, err := coerceLiteral(colType, v)
				if err != nil {
					return nil, err
				}
				items[i] = expr.Lit(coerced)
			}
			op := expr.OpIn
			if t.Op == OpNotIn {
				op = expr.OpNotIn
			}
			return expr.Binary{Op: op, Left: left, Right: expr.List{Items: items}}, nil
		default:
			coerced, err := coerceLiteral(colType, t.Value)
			if err != nil {
				return nil, err
			}
			return expr.Binary{Op: expr.BinaryOp(t.Op), Left: left, Right: expr.Lit(coerced)}, nil
		}
	case Compound:
		op := expr.OpAnd
		if t.Op == CompoundOr {
			op = expr.OpOr
		}
		var combined expr.Expr
		for _, c := range t.Filters {
			child, err := m.filterExpr(c)
			if err != nil {
				return nil, err
			}
			if combined == nil {
				combined = child
			} else {
				combined = expr.Binary{Op: op, Left: combined, Right: child}
			}
		}
		return combined, nil
	case RawFilter:
		return expr.Raw{SQL: t.SQL}, nil
	default:
		return nil, ErrMalformedFilterSpec("unsupported filter node %T", f)
	}
}

// dimensionColumnType reports the backend type a dimension compares as:
// the single underlying column's type when the expression is a plain column
// reference, "timestamp" for grain-truncated dimensions, otherwise "".
func (m *Model) dimensionColumnType(ref FieldRef) string {
	switch e := ref.Dim.Expr.(type) {
	case expr.Column:
		return ref.Table.ColumnType(e.Name)
	case expr.TimeTrunc:
		return "timestamp"
	default:
		return ""
	}
}

// timeLiteralLayouts are accepted spellings for date/timestamp literals.
var timeLiteralLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceLiteral converts string literals destined for date/timestamp typed
// columns into time values. Values that are already typed pass through.
func coerceLiteral(colType string, v any) (any, error) {
	if colType != "date" && colType != "timestamp" {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	for _, layout := range timeLiteralLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return nil, ErrMalformedFilterSpec("cannot coerce %q to %s: unrecognized literal format", fmt.Sprint(v), colType)
}
