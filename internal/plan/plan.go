// Package plan defines the logical relational-algebra tree the aggregation
// compiler produces. Nodes are pure data; rendering to executable SQL lives
// in internal/sqlgen and execution in internal/engine.
package plan

import (
	"fmt"
	"strings"

	"semlayer/internal/expr"
)

// Node is a logical plan operator.
type Node interface {
	isNode()
}

// NamedExpr pairs an output alias with the expression that produces it.
type NamedExpr struct {
	Alias string
	Expr  expr.Expr
}

// Scan reads a base table. Alias is the name the rest of the plan uses to
// qualify the table's columns; it is always set.
type Scan struct {
	Table string
	Alias string
}

// Filter keeps the rows of Input for which Cond is true.
type Filter struct {
	Input Node
	Cond  expr.Expr
}

// Project computes the listed expressions, producing exactly those columns.
// InputAlias names the input relation when it is a subplan whose columns
// the expressions qualify; it is ignored for Scan and Join inputs, which
// carry their own aliases.
type Project struct {
	Input      Node
	InputAlias string
	Cols       []NamedExpr
}

// Distinct removes duplicate rows.
type Distinct struct {
	Input Node
}

// Aggregate groups Input by GroupBy and computes Aggs per group. An empty
// GroupBy collapses the input to a single row.
type Aggregate struct {
	Input   Node
	GroupBy []NamedExpr
	Aggs    []NamedExpr
}

// JoinKind is the physical join flavor of a Join node.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinCross JoinKind = "cross"
)

// JoinCond equates an expression over the left input with one over the
// right. NullSafe conditions use IS NOT DISTINCT FROM so NULL group keys
// still match.
type JoinCond struct {
	Left     expr.Expr
	Right    expr.Expr
	NullSafe bool
}

// Join combines two inputs. On is empty for cross joins.
type Join struct {
	Kind  JoinKind
	Left  Node
	Right Node
	On    []JoinCond

	// LeftAlias/RightAlias name the join inputs when they are subplans
	// rather than scans, so join conditions can qualify their columns.
	LeftAlias  string
	RightAlias string
}

// Unnest flattens an array-valued column of Input into rows. Source is the
// column reference ("items", or "items.taxes" for an array field of an
// already-unnested struct); As is the name the element value is bound to;
// Alias names the resulting relation.
type Unnest struct {
	Input  Node
	Source string
	As     string
	Alias  string
}

// SortKey orders output by a named output column.
type SortKey struct {
	Column string
	Desc   bool
}

// Sort orders the input rows.
type Sort struct {
	Input Node
	Keys  []SortKey
}

// Limit keeps the first N rows.
type Limit struct {
	Input Node
	N     int
}

func (Scan) isNode()      {}
func (Filter) isNode()    {}
func (Project) isNode()   {}
func (Distinct) isNode()  {}
func (Aggregate) isNode() {}
func (Join) isNode()      {}
func (Unnest) isNode()    {}
func (Sort) isNode()      {}
func (Limit) isNode()     {}

// String renders an indented operator tree for debugging and plan tests.
func String(n Node) string {
	var b strings.Builder
	write(&b, n, 0)
	return b.String()
}

func write(b *strings.Builder, n Node, depth int) {
	pad := strings.Repeat("  ", depth)
	switch t := n.(type) {
	case Scan:
		fmt.Fprintf(b, "%sscan %s as %s\n", pad, t.Table, t.Alias)
	case Filter:
		fmt.Fprintf(b, "%sfilter %s\n", pad, expr.String(t.Cond))
		write(b, t.Input, depth+1)
	case Project:
		fmt.Fprintf(b, "%sproject %s\n", pad, aliases(t.Cols))
		write(b, t.Input, depth+1)
	case Distinct:
		fmt.Fprintf(b, "%sdistinct\n", pad)
		write(b, t.Input, depth+1)
	case Aggregate:
		fmt.Fprintf(b, "%saggregate group=%s aggs=%s\n", pad, aliases(t.GroupBy), aliases(t.Aggs))
		write(b, t.Input, depth+1)
	case Join:
		fmt.Fprintf(b, "%sjoin %s conds=%d\n", pad, t.Kind, len(t.On))
		write(b, t.Left, depth+1)
		write(b, t.Right, depth+1)
	case Unnest:
		fmt.Fprintf(b, "%sunnest %s as %s\n", pad, t.Source, t.As)
		write(b, t.Input, depth+1)
	case Sort:
		fmt.Fprintf(b, "%ssort %v\n", pad, t.Keys)
		write(b, t.Input, depth+1)
	case Limit:
		fmt.Fprintf(b, "%slimit %d\n", pad, t.N)
		write(b, t.Input, depth+1)
	}
}

func aliases(cols []NamedExpr) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Alias
	}
	return "[" + strings.Join(names, ", ") + "]"
}
