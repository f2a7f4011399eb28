// Package sqlgen renders logical plans to DuckDB SQL. It is the only place
// that knows SQL syntax; the compiler emits plan trees and the engine
// executes whatever text comes out of here.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"semlayer/internal/expr"
	"semlayer/internal/plan"
)

// Render produces a single SELECT statement for a plan tree.
func Render(root plan.Node) (string, error) {
	sel, err := build(root)
	if err != nil {
		return "", err
	}
	return sel.text(), nil
}

// selectStmt accumulates the clauses of one SELECT while the plan tree is
// folded into it.
type selectStmt struct {
	distinct bool
	cols     []string
	from     string
	where    []string
	groupN   int
	orderBy  []string
	limit    int
}

func (s *selectStmt) text() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.cols) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.cols, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(s.from)
	if len(s.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(s.where, " AND "))
	}
	if s.groupN > 0 {
		positions := make([]string, s.groupN)
		for i := range positions {
			positions[i] = strconv.Itoa(i + 1)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(positions, ", "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(s.limit))
	}
	return b.String()
}

func build(n plan.Node) (*selectStmt, error) {
	switch t := n.(type) {
	case plan.Limit:
		sel, err := build(t.Input)
		if err != nil {
			return nil, err
		}
		sel.limit = t.N
		return sel, nil
	case plan.Sort:
		sel, err := build(t.Input)
		if err != nil {
			return nil, err
		}
		for _, k := range t.Keys {
			dir := ""
			if k.Desc {
				dir = " DESC"
			}
			sel.orderBy = append(sel.orderBy, quoteIdent(k.Column)+dir)
		}
		return sel, nil
	case plan.Project:
		from, where, err := fromItem(t.Input, t.InputAlias)
		if err != nil {
			return nil, err
		}
		sel := &selectStmt{from: from, where: where}
		for _, c := range t.Cols {
			rendered, err := renderExpr(c.Expr)
			if err != nil {
				return nil, err
			}
			sel.cols = append(sel.cols, rendered+" AS "+quoteIdent(c.Alias))
		}
		return sel, nil
	case plan.Distinct:
		inner, ok := t.Input.(plan.Project)
		if !ok {
			return nil, fmt.Errorf("distinct over %T is not renderable", t.Input)
		}
		sel, err := build(inner)
		if err != nil {
			return nil, err
		}
		sel.distinct = true
		return sel, nil
	case plan.Aggregate:
		from, where, err := fromItem(t.Input, "")
		if err != nil {
			return nil, err
		}
		sel := &selectStmt{from: from, where: where, groupN: len(t.GroupBy)}
		for _, g := range t.GroupBy {
			rendered, err := renderExpr(g.Expr)
			if err != nil {
				return nil, err
			}
			sel.cols = append(sel.cols, rendered+" AS "+quoteIdent(g.Alias))
		}
		for _, a := range t.Aggs {
			rendered, err := renderExpr(a.Expr)
			if err != nil {
				return nil, err
			}
			sel.cols = append(sel.cols, rendered+" AS "+quoteIdent(a.Alias))
		}
		return sel, nil
	default:
		from, where, err := fromItem(n, "")
		if err != nil {
			return nil, err
		}
		return &selectStmt{from: from, where: where}, nil
	}
}

// fromItem renders a plan node as a FROM clause item. Filters directly
// under the enclosing select fold into its WHERE; filters inside join
// operands stay inside a subquery so LEFT JOIN semantics hold.
func fromItem(n plan.Node, alias string) (string, []string, error) {
	switch t := n.(type) {
	case plan.Scan:
		return quoteIdent(t.Table) + " AS " + quoteIdent(t.Alias), nil, nil
	case plan.Filter:
		from, where, err := fromItem(t.Input, alias)
		if err != nil {
			return "", nil, err
		}
		cond, err := renderExpr(t.Cond)
		if err != nil {
			return "", nil, err
		}
		return from, append(where, cond), nil
	case plan.Join:
		rendered, err := renderJoin(t)
		if err != nil {
			return "", nil, err
		}
		return rendered, nil, nil
	case plan.Unnest:
		sub, err := renderUnnest(t)
		if err != nil {
			return "", nil, err
		}
		return "(" + sub + ") AS " + quoteIdent(t.Alias), nil, nil
	default:
		if alias == "" {
			return "", nil, fmt.Errorf("subplan %T requires an alias to be referenced", n)
		}
		sel, err := build(n)
		if err != nil {
			return "", nil, err
		}
		return "(" + sel.text() + ") AS " + quoteIdent(alias), nil, nil
	}
}

func renderJoin(j plan.Join) (string, error) {
	left, err := joinOperand(j.Left, j.LeftAlias)
	if err != nil {
		return "", err
	}
	right, err := joinOperand(j.Right, j.RightAlias)
	if err != nil {
		return "", err
	}
	var kw string
	switch j.Kind {
	case plan.JoinInner:
		kw = "JOIN"
	case plan.JoinLeft:
		kw = "LEFT JOIN"
	case plan.JoinCross:
		kw = "CROSS JOIN"
	default:
		return "", fmt.Errorf("unsupported join kind %q", j.Kind)
	}
	out := left + " " + kw + " " + right
	if len(j.On) > 0 {
		conds := make([]string, len(j.On))
		for i, c := range j.On {
			l, err := renderExpr(c.Left)
			if err != nil {
				return "", err
			}
			r, err := renderExpr(c.Right)
			if err != nil {
				return "", err
			}
			op := " = "
			if c.NullSafe {
				op = " IS NOT DISTINCT FROM "
			}
			conds[i] = l + op + r
		}
		out += " ON " + strings.Join(conds, " AND ")
	}
	return out, nil
}

func joinOperand(n plan.Node, alias string) (string, error) {
	switch t := n.(type) {
	case plan.Scan:
		return quoteIdent(t.Table) + " AS " + quoteIdent(t.Alias), nil
	case plan.Join:
		inner, err := renderJoin(t)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case plan.Unnest:
		sub, err := renderUnnest(t)
		if err != nil {
			return "", err
		}
		return "(" + sub + ") AS " + quoteIdent(t.Alias), nil
	case plan.Filter:
		// A filtered scan inside a join keeps its filter in a subquery so
		// the join's null-extension cannot bypass it.
		scanAlias := alias
		if s, ok := innermostScan(t); ok && scanAlias == "" {
			scanAlias = s.Alias
		}
		if scanAlias == "" {
			return "", fmt.Errorf("filtered join operand requires an alias")
		}
		sel, err := build(n)
		if err != nil {
			return "", err
		}
		return "(" + sel.text() + ") AS " + quoteIdent(scanAlias), nil
	default:
		if alias == "" {
			return "", fmt.Errorf("join operand %T requires an alias", n)
		}
		sel, err := build(n)
		if err != nil {
			return "", err
		}
		return "(" + sel.text() + ") AS " + quoteIdent(alias), nil
	}
}

func innermostScan(n plan.Node) (plan.Scan, bool) {
	for {
		switch t := n.(type) {
		case plan.Scan:
			return t, true
		case plan.Filter:
			n = t.Input
		default:
			return plan.Scan{}, false
		}
	}
}

// renderUnnest expands an array column into rows. DuckDB expands the whole
// result set when unnest appears in the select list; EXCLUDE drops the
// original array column when the element rebinds its name.
func renderUnnest(u plan.Unnest) (string, error) {
	from, where, err := fromItem(u.Input, u.Alias)
	if err != nil {
		return "", err
	}
	source, err := renderExpr(expr.Col(u.Source))
	if err != nil {
		return "", err
	}
	star := "*"
	if !strings.Contains(u.Source, ".") {
		star = "* EXCLUDE (" + quoteIdent(u.Source) + ")"
	}
	sql := "SELECT " + star + ", unnest(" + source + ") AS " + quoteIdent(u.As) + " FROM " + from
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql, nil
}

func renderExpr(e expr.Expr) (string, error) {
	switch t := e.(type) {
	case expr.Column:
		return renderColumn(t.Name), nil
	case expr.Literal:
		return renderLiteral(t.Value)
	case expr.Binary:
		return renderBinary(t)
	case expr.List:
		items := make([]string, len(t.Items))
		for i, it := range t.Items {
			rendered, err := renderExpr(it)
			if err != nil {
				return "", err
			}
			items[i] = rendered
		}
		return "(" + strings.Join(items, ", ") + ")", nil
	case expr.Func:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			rendered, err := renderExpr(a)
			if err != nil {
				return "", err
			}
			args[i] = rendered
		}
		return t.Name + "(" + strings.Join(args, ", ") + ")", nil
	case expr.Cast:
		inner, err := renderExpr(t.Expr)
		if err != nil {
			return "", err
		}
		return "CAST(" + inner + " AS " + t.Type + ")", nil
	case expr.TimeTrunc:
		inner, err := renderExpr(t.Expr)
		if err != nil {
			return "", err
		}
		return "date_trunc('" + t.Unit + "', " + inner + ")", nil
	case expr.Agg:
		return renderAgg(t)
	case expr.Raw:
		return "(" + t.SQL + ")", nil
	default:
		return "", fmt.Errorf("unsupported expression %T", e)
	}
}

// renderColumn splits a qualified name at its first dot: the part before is
// the relation alias, everything after is one identifier (output aliases
// may themselves contain dots).
func renderColumn(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return quoteIdent(name[:i]) + "." + quoteIdent(name[i+1:])
	}
	return quoteIdent(name)
}

func renderLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case time.Time:
		return "TIMESTAMP '" + x.UTC().Format("2006-01-02 15:04:05") + "'", nil
	default:
		return "", fmt.Errorf("unsupported literal %T", v)
	}
}

func renderBinary(b expr.Binary) (string, error) {
	left, err := renderExpr(b.Left)
	if err != nil {
		return "", err
	}
	switch b.Op {
	case expr.OpIsNull:
		return "(" + left + " IS NULL)", nil
	case expr.OpIsNotNull:
		return "(" + left + " IS NOT NULL)", nil
	}
	right, err := renderExpr(b.Right)
	if err != nil {
		return "", err
	}
	op, err := sqlOperator(b.Op)
	if err != nil {
		return "", err
	}
	return "(" + left + " " + op + " " + right + ")", nil
}

func sqlOperator(op expr.BinaryOp) (string, error) {
	switch op {
	case expr.OpAdd, expr.OpSub, expr.OpMul, expr.OpDiv, expr.OpEq,
		expr.OpGt, expr.OpGe, expr.OpLt, expr.OpLe, expr.OpConcat:
		return string(op), nil
	case expr.OpNe:
		return "<>", nil
	case expr.OpLike:
		return "LIKE", nil
	case expr.OpNotLike:
		return "NOT LIKE", nil
	case expr.OpILike:
		return "ILIKE", nil
	case expr.OpNotILike:
		return "NOT ILIKE", nil
	case expr.OpIn:
		return "IN", nil
	case expr.OpNotIn:
		return "NOT IN", nil
	case expr.OpAnd:
		return "AND", nil
	case expr.OpOr:
		return "OR", nil
	default:
		return "", fmt.Errorf("unsupported operator %q", op)
	}
}

func renderAgg(a expr.Agg) (string, error) {
	if a.Expr == nil {
		if a.Kind != expr.AggCount {
			return "", fmt.Errorf("%s requires an operand", a.Kind)
		}
		return "COUNT(*)", nil
	}
	inner, err := renderExpr(a.Expr)
	if err != nil {
		return "", err
	}
	switch a.Kind {
	case expr.AggSum:
		return "SUM(" + inner + ")", nil
	case expr.AggCount:
		return "COUNT(" + inner + ")", nil
	case expr.AggCountDistinct:
		return "COUNT(DISTINCT " + inner + ")", nil
	case expr.AggMin:
		return "MIN(" + inner + ")", nil
	case expr.AggMax:
		return "MAX(" + inner + ")", nil
	case expr.AggMean:
		return "AVG(" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported aggregate %q", a.Kind)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
