// Package expr defines the scalar and aggregate expression tree used by
// semantic field definitions and by the logical plan. Expressions are pure
// data: building one never touches a database, and every analysis over them
// (column collection, qualification, substitution) is a plain tree walk.
package expr

import "fmt"

// Expr is a scalar or aggregate expression node.
type Expr interface {
	isExpr()
}

// Column references a column by name. A name of the form "table.column" is
// qualified; a bare name is resolved against the enclosing relation.
type Column struct {
	Name string
}

// Literal is a constant value (string, int64, float64, bool, time.Time, nil).
type Literal struct {
	Value any
}

// BinaryOp enumerates the binary operators an expression tree may contain.
type BinaryOp string

const (
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"

	OpEq        BinaryOp = "="
	OpNe        BinaryOp = "!="
	OpGt        BinaryOp = ">"
	OpGe        BinaryOp = ">="
	OpLt        BinaryOp = "<"
	OpLe        BinaryOp = "<="
	OpLike      BinaryOp = "like"
	OpNotLike   BinaryOp = "not like"
	OpILike     BinaryOp = "ilike"
	OpNotILike  BinaryOp = "not ilike"
	OpAnd       BinaryOp = "and"
	OpOr        BinaryOp = "or"
	OpIn        BinaryOp = "in"
	OpNotIn     BinaryOp = "not in"
	OpIsNull    BinaryOp = "is null"
	OpIsNotNull BinaryOp = "is not null"
	OpConcat    BinaryOp = "||"
)

// Binary applies Op to Left and Right. For the unary null-check operators
// Right is nil. For OpIn/OpNotIn Right is a List.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// List is a literal value list, the right-hand side of IN / NOT IN.
type List struct {
	Items []Expr
}

// Func calls a named scalar function.
type Func struct {
	Name string
	Args []Expr
}

// Cast converts its operand to the named SQL type.
type Cast struct {
	Type string
	Expr Expr
}

// TimeTrunc truncates a time-valued operand to a grain unit ("day", "month", ...).
type TimeTrunc struct {
	Unit string
	Expr Expr
}

// AggKind enumerates the supported aggregation functions.
type AggKind string

const (
	AggSum           AggKind = "sum"
	AggCount         AggKind = "count"
	AggCountDistinct AggKind = "count_distinct"
	AggMin           AggKind = "min"
	AggMax           AggKind = "max"
	AggMean          AggKind = "mean"
)

// Agg is an aggregate expression. A nil Expr with AggCount is COUNT(*).
type Agg struct {
	Kind AggKind
	Expr Expr
}

// Raw is an opaque SQL fragment. Raw expressions are explicitly
// unanalyzable: column collection reports them as such and downstream
// consumers fall back to conservative behavior (select every column,
// no filter pushdown).
type Raw struct {
	SQL string
}

func (Column) isExpr()    {}
func (Literal) isExpr()   {}
func (Binary) isExpr()    {}
func (List) isExpr()      {}
func (Func) isExpr()      {}
func (Cast) isExpr()      {}
func (TimeTrunc) isExpr() {}
func (Agg) isExpr()       {}
func (Raw) isExpr()       {}

// Convenience constructors used heavily by model definitions and tests.

// Col references a column by name.
func Col(name string) Column { return Column{Name: name} }

// Lit wraps a constant.
func Lit(v any) Literal { return Literal{Value: v} }

// Sum builds SUM(e).
func Sum(e Expr) Agg { return Agg{Kind: AggSum, Expr: e} }

// Count builds COUNT(*).
func Count() Agg { return Agg{Kind: AggCount} }

// CountOf builds COUNT(e).
func CountOf(e Expr) Agg { return Agg{Kind: AggCount, Expr: e} }

// CountDistinct builds COUNT(DISTINCT e).
func CountDistinct(e Expr) Agg { return Agg{Kind: AggCountDistinct, Expr: e} }

// Min builds MIN(e).
func Min(e Expr) Agg { return Agg{Kind: AggMin, Expr: e} }

// Max builds MAX(e).
func Max(e Expr) Agg { return Agg{Kind: AggMax, Expr: e} }

// Mean builds AVG(e).
func Mean(e Expr) Agg { return Agg{Kind: AggMean, Expr: e} }

// IsAggregate reports whether e contains an Agg node.
func IsAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) {
		if _, ok := n.(Agg); ok {
			found = true
		}
	})
	return found
}

// Walk calls fn for every node of e in depth-first order.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case List:
		for _, it := range n.Items {
			Walk(it, fn)
		}
	case Func:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case Cast:
		Walk(n.Expr, fn)
	case TimeTrunc:
		Walk(n.Expr, fn)
	case Agg:
		Walk(n.Expr, fn)
	}
}

// Columns collects the distinct column names referenced by e. The second
// return is false when e contains a Raw node, in which case the collected
// set is incomplete and callers must not treat it as authoritative.
func Columns(e Expr) (map[string]bool, bool) {
	cols := map[string]bool{}
	analyzable := true
	Walk(e, func(n Expr) {
		switch t := n.(type) {
		case Column:
			cols[t.Name] = true
		case Raw:
			analyzable = false
		}
	})
	return cols, analyzable
}

// Rewrite returns a copy of e with fn applied bottom-up to every node.
// fn receives each node after its children have been rewritten.
func Rewrite(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case Binary:
		n.Left = Rewrite(n.Left, fn)
		n.Right = Rewrite(n.Right, fn)
		return fn(n)
	case List:
		items := make([]Expr, len(n.Items))
		for i, it := range n.Items {
			items[i] = Rewrite(it, fn)
		}
		return fn(List{Items: items})
	case Func:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = Rewrite(a, fn)
		}
		return fn(Func{Name: n.Name, Args: args})
	case Cast:
		n.Expr = Rewrite(n.Expr, fn)
		return fn(n)
	case TimeTrunc:
		n.Expr = Rewrite(n.Expr, fn)
		return fn(n)
	case Agg:
		n.Expr = Rewrite(n.Expr, fn)
		return fn(n)
	default:
		return fn(e)
	}
}

// Qualify prefixes every unqualified column reference with the given table
// name, so expressions defined against a single table remain unambiguous
// inside a multi-table relation.
func Qualify(e Expr, table string) Expr {
	return Rewrite(e, func(n Expr) Expr {
		if c, ok := n.(Column); ok && !isQualified(c.Name) {
			return Column{Name: table + "." + c.Name}
		}
		return n
	})
}

// Substitute replaces unqualified column references that name a key in subs
// with the corresponding expression. Used to inline earlier dimensions of
// the same table into later ones.
func Substitute(e Expr, subs map[string]Expr) Expr {
	return Rewrite(e, func(n Expr) Expr {
		if c, ok := n.(Column); ok {
			if repl, ok := subs[c.Name]; ok {
				return repl
			}
		}
		return n
	})
}

func isQualified(name string) bool {
	for _, r := range name {
		if r == '.' {
			return true
		}
	}
	return false
}

// String renders a debugging representation. The SQL renderer, not this
// method, produces executable text.
func String(e Expr) string {
	switch n := e.(type) {
	case nil:
		return "<nil>"
	case Column:
		return n.Name
	case Literal:
		return fmt.Sprintf("%v", n.Value)
	case Binary:
		if n.Right == nil {
			return fmt.Sprintf("(%s %s)", String(n.Left), n.Op)
		}
		return fmt.Sprintf("(%s %s %s)", String(n.Left), n.Op, String(n.Right))
	case List:
		s := "("
		for i, it := range n.Items {
			if i > 0 {
				s += ", "
			}
			s += String(it)
		}
		return s + ")"
	case Func:
		s := n.Name + "("
		for i, a := range n.Args {
			if i > 0 {
				s += ", "
			}
			s += String(a)
		}
		return s + ")"
	case Cast:
		return fmt.Sprintf("cast(%s as %s)", String(n.Expr), n.Type)
	case TimeTrunc:
		return fmt.Sprintf("date_trunc('%s', %s)", n.Unit, String(n.Expr))
	case Agg:
		if n.Expr == nil {
			return string(n.Kind) + "(*)"
		}
		return fmt.Sprintf("%s(%s)", n.Kind, String(n.Expr))
	case Raw:
		return "raw{" + n.SQL + "}"
	default:
		return fmt.Sprintf("%#v", e)
	}
}
