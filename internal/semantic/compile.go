package semantic

import (
	"strconv"
	"strings"

	"semlayer/internal/expr"
	"semlayer/internal/plan"
	"semlayer/internal/sqlgen"
)

// OrderBy orders query output by an output field.
type OrderBy struct {
	Field string
	Desc  bool
}

// TimeRange is the inclusive [Start, End] shorthand for two comparison
// filters against the query's time dimension.
type TimeRange struct {
	Start any
	End   any
}

// Query is one grouped-aggregation request. Queries are transient: compiling
// never mutates the model and produces a fresh plan each call.
type Query struct {
	Dimensions []string
	Measures   []string
	Filters    []any
	OrderBy    []OrderBy
	Limit      int
	TimeGrain  Grain
	TimeRange  *TimeRange
}

// Plan is a compiled query: a logical operator tree plus its output columns
// in order.
type Plan struct {
	Root    plan.Node
	Columns []string
}

// SQL renders the plan to DuckDB SQL.
func (p Plan) SQL() (string, error) {
	return sqlgen.Render(p.Root)
}

// groupKey is a resolved group key with its final (possibly grain-truncated)
// expression, qualified against the raw join tree.
type groupKey struct {
	ref  FieldRef
	expr expr.Expr
}

// partition is one pre-aggregation pass: all base measures sharing an owner
// table and an unnest path, collapsed to one row per resolvable group key
// before any cross-table join happens.
type partition struct {
	owner      *Table
	unnestPath []string
	measures   []FieldRef
	keys       []groupKey
}

// Compile turns a query into a logical plan, guarding against fan-out and
// chasm inflation by pre-aggregating every measure on its own table before
// joining, per the partitioning scheme described on each helper below.
func (m *Model) Compile(q Query) (*Plan, error) {
	if len(q.Dimensions) == 0 && len(q.Measures) == 0 {
		return nil, ErrMalformedFilterSpec("query requests no dimensions and no measures")
	}

	// Step 0: normalize and classify filters before anything else.
	filters := make([]Filter, 0, len(q.Filters))
	for _, spec := range q.Filters {
		f, err := Normalize(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	// Group keys, with the requested grain applied to time dimensions.
	keys, err := m.resolveGroupKeys(q)
	if err != nil {
		return nil, err
	}

	// Time range sugar: two inclusive comparisons against the query's time
	// dimension, which must be among the group keys.
	if q.TimeRange != nil {
		rangeFilters, err := m.timeRangeFilters(q, keys)
		if err != nil {
			return nil, err
		}
		filters = append(filters, rangeFilters...)
	}

	// Classify: single-table filters push down to their table's raw
	// relation; anything spanning arms (or opaque) forces the conservative
	// filtered-join-tree fallback for this query.
	pushdown := map[string][]expr.Expr{}
	var crossFilters []expr.Expr
	crossTables := map[string]bool{}
	crossOpaque := false
	for _, f := range filters {
		tables, analyzable, err := m.filterTables(f)
		if err != nil {
			return nil, err
		}
		cond, err := m.filterExpr(f)
		if err != nil {
			return nil, err
		}
		if analyzable && len(tables) == 1 {
			for t := range tables {
				pushdown[t] = append(pushdown[t], cond)
			}
			continue
		}
		crossFilters = append(crossFilters, cond)
		for t := range tables {
			crossTables[t] = true
		}
		if !analyzable {
			crossOpaque = true
		}
	}

	// Resolve measures; calculated measures pull in their transitive base
	// measures and grand totals.
	requested, bases, totals, err := m.resolveMeasures(q.Measures)
	if err != nil {
		return nil, err
	}

	parts := partitionMeasures(m, bases, keys)

	var root plan.Node
	var rootAlias string
	keyAlias := "__dims"
	qualOf := map[string]string{}

	if len(crossFilters) > 0 {
		for _, k := range keys {
			crossTables[k.ref.Table.name] = true
		}
		for _, b := range bases {
			crossTables[b.Table.name] = true
		}
		for t := range pushdown {
			crossTables[t] = true
		}
		if crossOpaque {
			for t := range m.tables {
				crossTables[t] = true
			}
		}
		root, rootAlias, err = m.compileFallback(keys, bases, pushdown, crossFilters, crossTables, qualOf)
		if len(bases) > 0 {
			keyAlias = "__agg"
		}
	} else {
		root, rootAlias, err = m.compilePartitioned(keys, parts, pushdown, qualOf)
	}
	if err != nil {
		return nil, err
	}

	// Grand totals: one zero-key aggregate per referenced base measure over
	// its filtered owner table, broadcast by cross join.
	for i, total := range totals {
		alias := "__t" + strconv.Itoa(i)
		totalAgg, err := m.compileGrandTotal(total, pushdown)
		if err != nil {
			return nil, err
		}
		qualOf[grandTotalAlias(total.Name)] = alias
		if root == nil {
			root, rootAlias = totalAgg, alias
			continue
		}
		root = plan.Join{Kind: plan.JoinCross, Left: root, Right: totalAgg, LeftAlias: rootAlias, RightAlias: alias}
		rootAlias = ""
	}
	if root == nil {
		return nil, ErrMalformedFilterSpec("query requests no dimensions and no measures")
	}

	// Final projection: exactly K then M, requested order, duplicates
	// removed by first occurrence; order-by and limit last.
	cols, colNames, err := m.outputColumns(keys, keyAlias, requested, qualOf)
	if err != nil {
		return nil, err
	}
	root = plan.Project{Input: root, InputAlias: rootAlias, Cols: cols}

	if len(q.OrderBy) > 0 {
		sortKeys := make([]plan.SortKey, 0, len(q.OrderBy))
		for _, ob := range q.OrderBy {
			ref, err := m.Resolve(ob.Field)
			if err != nil {
				return nil, err
			}
			if !containsString(colNames, ref.Name) {
				return nil, ErrUnknownField("order by field %q is not part of the query output", ob.Field)
			}
			sortKeys = append(sortKeys, plan.SortKey{Column: ref.Name, Desc: ob.Desc})
		}
		root = plan.Sort{Input: root, Keys: sortKeys}
	}
	if q.Limit > 0 {
		root = plan.Limit{Input: root, N: q.Limit}
	}

	return &Plan{Root: root, Columns: colNames}, nil
}

// resolveGroupKeys resolves each requested dimension and applies the
// requested time grain to time dimensions, validating it against each
// dimension's configured minimum grain.
func (m *Model) resolveGroupKeys(q Query) ([]groupKey, error) {
	var grain Grain
	if q.TimeGrain != "" {
		g, err := ParseGrain(string(q.TimeGrain))
		if err != nil {
			return nil, err
		}
		grain = g
	}

	seen := map[string]bool{}
	keys := make([]groupKey, 0, len(q.Dimensions))
	for _, name := range q.Dimensions {
		ref, err := m.Resolve(name)
		if err != nil {
			return nil, err
		}
		if ref.Kind != KindDimension {
			return nil, ErrMalformedFilterSpec("group key %q is a %s, expected a dimension", name, ref.Kind)
		}
		if seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true

		inlined, _ := ref.Table.dimensionExpr(ref.Dim.Name)
		keyExpr := expr.Qualify(inlined, ref.Table.name)
		if grain != "" && ref.Dim.IsTime {
			if ref.Dim.SmallestGrain != "" && grain.FinerThan(ref.Dim.SmallestGrain) {
				return nil, ErrInvalidTimeGrain("grain %q is finer than the smallest grain %q of dimension %q",
					grain, ref.Dim.SmallestGrain, ref.Name)
			}
			keyExpr = expr.TimeTrunc{Unit: string(grain), Expr: keyExpr}
		}
		keys = append(keys, groupKey{ref: ref, expr: keyExpr})
	}
	return keys, nil
}

// timeRangeFilters expands the TimeRange shorthand. Exactly one time
// dimension must be among the group keys; the comparisons apply to the
// dimension's raw (untruncated) expression.
func (m *Model) timeRangeFilters(q Query, keys []groupKey) ([]Filter, error) {
	var timeDim string
	for _, k := range keys {
		if k.ref.Dim.IsTime {
			if timeDim != "" {
				return nil, ErrMalformedFilterSpec("time range is ambiguous: group keys include multiple time dimensions (%s, %s)", timeDim, k.ref.Name)
			}
			timeDim = k.ref.Name
		}
	}
	if timeDim == "" {
		return nil, ErrMalformedFilterSpec("time range requires a time dimension among the group keys")
	}
	if q.TimeRange.Start == nil || q.TimeRange.End == nil {
		return nil, ErrMalformedFilterSpec("time range requires both start and end")
	}
	return []Filter{
		Comparison{Field: timeDim, Op: OpGe, Value: q.TimeRange.Start},
		Comparison{Field: timeDim, Op: OpLe, Value: q.TimeRange.End},
	}, nil
}

// resolveMeasures resolves the requested measures, expanding calculated
// measures into the base measures and grand totals they need.
func (m *Model) resolveMeasures(names []string) (requested, bases, totals []FieldRef, err error) {
	seenReq := map[string]bool{}
	seenBase := map[string]bool{}
	seenTotal := map[string]bool{}
	for _, name := range names {
		ref, err := m.Resolve(name)
		if err != nil {
			return nil, nil, nil, err
		}
		if seenReq[ref.Name] {
			continue
		}
		seenReq[ref.Name] = true
		switch ref.Kind {
		case KindMeasure:
			requested = append(requested, ref)
			if !seenBase[ref.Name] {
				seenBase[ref.Name] = true
				bases = append(bases, ref)
			}
		case KindCalculated:
			requested = append(requested, ref)
			needs, err := m.neededBaseMeasures(ref.Name, ref.Calc.Expr)
			if err != nil {
				return nil, nil, nil, err
			}
			for _, b := range needs.Base {
				if !seenBase[b] {
					seenBase[b] = true
					bref, _ := m.Resolve(b)
					bases = append(bases, bref)
				}
			}
			for _, t := range needs.Totals {
				if !seenTotal[t] {
					seenTotal[t] = true
					tref, _ := m.Resolve(t)
					totals = append(totals, tref)
				}
			}
		default:
			return nil, nil, nil, ErrMalformedFilterSpec("requested measure %q is a dimension", name)
		}
	}
	return requested, bases, totals, nil
}

// partitionMeasures splits base measures by (owner table, unnest path). Two
// measures on the same table needing different unnest paths never share a
// group-by pass. Each partition's group keys are the subset resolvable
// without multiplying the owner's rows.
func partitionMeasures(m *Model, bases []FieldRef, keys []groupKey) []partition {
	var parts []partition
	index := map[string]int{}
	for _, b := range bases {
		pkey := b.Table.name + "\x00" + strings.Join(b.Measure.UnnestPath, "\x00")
		i, ok := index[pkey]
		if !ok {
			safe := m.safeJoinSet(b.Table.name)
			var partKeys []groupKey
			for _, k := range keys {
				if safe[k.ref.Table.name] {
					partKeys = append(partKeys, k)
				}
			}
			i = len(parts)
			index[pkey] = i
			parts = append(parts, partition{owner: b.Table, unnestPath: b.Measure.UnnestPath, keys: partKeys})
		}
		parts[i].measures = append(parts[i].measures, b)
	}
	return parts
}

// compilePartitioned assembles the fan-out-safe shape: a distinct group-key
// spine over the raw join tree, LEFT JOINed (null-safe) with each
// partition's pre-aggregate so dimension values without facts survive with
// NULL measures.
func (m *Model) compilePartitioned(keys []groupKey, parts []partition, pushdown map[string][]expr.Expr, qualOf map[string]string) (plan.Node, string, error) {
	var root plan.Node
	var rootAlias string

	if len(keys) > 0 {
		spine, err := m.buildSpine(keys, pushdown)
		if err != nil {
			return nil, "", err
		}
		root = spine
		rootAlias = "__dims"
	}

	for i, p := range parts {
		alias := "__m" + strconv.Itoa(i)
		agg, err := m.buildPartition(p, pushdown)
		if err != nil {
			return nil, "", err
		}
		for _, b := range p.measures {
			qualOf[b.Name] = alias
		}
		switch {
		case root == nil:
			root = agg
			rootAlias = alias
		case len(p.keys) == 0:
			root = plan.Join{Kind: plan.JoinCross, Left: root, Right: agg, LeftAlias: rootAlias, RightAlias: alias}
			rootAlias = ""
		default:
			on := make([]plan.JoinCond, 0, len(p.keys))
			for _, k := range p.keys {
				on = append(on, plan.JoinCond{
					Left:     expr.Col("__dims." + k.ref.Name),
					Right:    expr.Col(alias + "." + k.ref.Name),
					NullSafe: true,
				})
			}
			root = plan.Join{Kind: plan.JoinLeft, Left: root, Right: agg, On: on, LeftAlias: rootAlias, RightAlias: alias}
			rootAlias = ""
		}
	}
	return root, rootAlias, nil
}

// buildSpine computes the distinct group-key combinations over the tables
// the keys and pushed-down filters touch. Keeping unrelated arms out means a
// null-extended row from some other arm cannot surface as a spurious NULL
// key combination. This is also the whole plan for pure-dimension queries.
func (m *Model) buildSpine(keys []groupKey, pushdown map[string][]expr.Expr) (plan.Node, error) {
	need := map[string]bool{}
	for _, k := range keys {
		need[k.ref.Table.name] = true
	}
	for t := range pushdown {
		need[t] = true
	}
	m.connectTables(need)
	tree, _, err := m.buildRawTree(m.root, need, pushdown)
	if err != nil {
		return nil, err
	}
	cols := make([]plan.NamedExpr, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, plan.NamedExpr{Alias: k.ref.Name, Expr: k.expr})
	}
	return plan.Distinct{Input: plan.Project{Input: tree, Cols: cols}}, nil
}

// buildRawTree lowers the join tree to plan nodes, keeping only needed
// tables. One-to-many and one-to-one joins render as LEFT JOIN with the
// "one" side preserved; cross joins as CROSS JOIN.
func (m *Model) buildRawTree(n Node, need map[string]bool, pushdown map[string][]expr.Expr) (plan.Node, string, error) {
	switch t := n.(type) {
	case LeafNode:
		if !need[t.Table.name] {
			return nil, "", nil
		}
		return m.buildScan(t.Table.name, pushdown), t.Table.name, nil
	case JoinTree:
		left, la, err := m.buildRawTree(t.Left, need, pushdown)
		if err != nil {
			return nil, "", err
		}
		right, ra, err := m.buildRawTree(t.Right, need, pushdown)
		if err != nil {
			return nil, "", err
		}
		if left == nil {
			return right, ra, nil
		}
		if right == nil {
			return left, la, nil
		}
		kind := plan.JoinLeft
		if t.Cardinality == Cross {
			kind = plan.JoinCross
		}
		on, err := m.joinConds(t.On)
		if err != nil {
			return nil, "", err
		}
		return plan.Join{Kind: kind, Left: left, Right: right, On: on, LeftAlias: la, RightAlias: ra}, "", nil
	default:
		return nil, "", ErrUnknownField("unsupported join tree node %T", n)
	}
}

func (m *Model) joinConds(conds []JoinCondition) ([]plan.JoinCond, error) {
	out := make([]plan.JoinCond, 0, len(conds))
	for _, c := range conds {
		lref, err := m.Resolve(c.LeftField)
		if err != nil {
			return nil, err
		}
		rref, err := m.Resolve(c.RightField)
		if err != nil {
			return nil, err
		}
		le, _ := lref.Table.dimensionExpr(lref.Dim.Name)
		re, _ := rref.Table.dimensionExpr(rref.Dim.Name)
		out = append(out, plan.JoinCond{
			Left:  expr.Qualify(le, lref.Table.name),
			Right: expr.Qualify(re, rref.Table.name),
		})
	}
	return out, nil
}

// buildScan produces a table scan with that table's pushed-down filters
// applied to its raw rows, before any grouping or joining.
func (m *Model) buildScan(table string, pushdown map[string][]expr.Expr) plan.Node {
	var node plan.Node = plan.Scan{Table: table, Alias: table}
	for _, cond := range pushdown[table] {
		node = plan.Filter{Input: node, Cond: cond}
	}
	return node
}

// buildPartition compiles one pre-aggregation pass: the owner table's
// filtered rows, unnested along the measure path, LEFT JOINed to the safe
// dimension tables its group keys live on, grouped once. MEAN measures are
// therefore always computed in a single pass over raw owner rows at the
// partition grain, never recombined from partial aggregates.
func (m *Model) buildPartition(p partition, pushdown map[string][]expr.Expr) (plan.Node, error) {
	owner := p.owner.name
	var rel plan.Node = m.buildScan(owner, pushdown)

	// Unnest the owner along its path, outer array first.
	for i, arr := range p.unnestPath {
		source := arr
		if i > 0 {
			source = p.unnestPath[i-1] + "." + arr
		}
		rel = plan.Unnest{Input: rel, Source: source, As: arr, Alias: owner}
	}

	// LEFT JOIN the tables owning group keys, walking join edges from the
	// owner. All of them are fan-out-safe by construction of p.keys.
	needTables := map[string]bool{}
	for _, k := range p.keys {
		if k.ref.Table.name != owner {
			needTables[k.ref.Table.name] = true
		}
	}
	if len(needTables) > 0 {
		m.addPathTables(owner, needTables)
	}
	rel, err := m.attachDimensionTables(rel, owner, needTables, pushdown)
	if err != nil {
		return nil, err
	}

	groupBy := make([]plan.NamedExpr, 0, len(p.keys))
	for _, k := range p.keys {
		groupBy = append(groupBy, plan.NamedExpr{Alias: k.ref.Name, Expr: k.expr})
	}
	aggs := make([]plan.NamedExpr, 0, len(p.measures))
	for _, b := range p.measures {
		aggs = append(aggs, plan.NamedExpr{Alias: b.Name, Expr: expr.Qualify(b.Measure.Expr, owner)})
	}
	return plan.Aggregate{Input: rel, GroupBy: groupBy, Aggs: aggs}, nil
}

// addPathTables grows need with the intermediate tables on the join path
// from owner to each needed table, so a key two or more hops away can still
// be attached. Paths run through the owner's safe set only.
func (m *Model) addPathTables(owner string, need map[string]bool) {
	safe := m.safeJoinSet(owner)
	adj := map[string][]string{}
	for _, e := range m.pairEdges() {
		adj[e.a] = append(adj[e.a], e.b)
		adj[e.b] = append(adj[e.b], e.a)
	}
	parent := map[string]string{owner: ""}
	queue := []string{owner}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := parent[next]; seen || !safe[next] {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	for t := range need {
		for p := parent[t]; p != "" && p != owner; p = parent[p] {
			need[p] = true
		}
	}
}

// attachDimensionTables BFS-walks the join graph from the owner, LEFT
// JOINing each needed table. Filters on attached tables are re-applied
// after the join so they restrict the owner's rows rather than
// null-extending them away.
func (m *Model) attachDimensionTables(rel plan.Node, owner string, need map[string]bool, pushdown map[string][]expr.Expr) (plan.Node, error) {
	if len(need) == 0 {
		return rel, nil
	}
	edges := m.pairEdges()
	reached := map[string]bool{owner: true}
	relAlias := owner
	var filtered []string

	for progress := true; progress && len(need) > 0; {
		progress = false
		for _, e := range edges {
			var next string
			var nearExpr, farExpr []expr.Expr
			switch {
			case reached[e.a] && !reached[e.b]:
				next, nearExpr, farExpr = e.b, e.aExprs, e.bExprs
			case reached[e.b] && !reached[e.a]:
				next, nearExpr, farExpr = e.a, e.bExprs, e.aExprs
			default:
				continue
			}
			if !need[next] {
				continue
			}
			on := make([]plan.JoinCond, len(nearExpr))
			for i := range nearExpr {
				on[i] = plan.JoinCond{Left: nearExpr[i], Right: farExpr[i]}
			}
			rel = plan.Join{
				Kind: plan.JoinLeft, Left: rel, Right: plan.Scan{Table: next, Alias: next},
				On: on, LeftAlias: relAlias, RightAlias: next,
			}
			relAlias = ""
			reached[next] = true
			delete(need, next)
			if len(pushdown[next]) > 0 {
				filtered = append(filtered, next)
			}
			progress = true
		}
	}
	for t := range need {
		return nil, ErrUnknownField("no join path from %q to %q", owner, t)
	}
	for _, t := range filtered {
		for _, cond := range pushdown[t] {
			rel = plan.Filter{Input: rel, Cond: cond}
		}
	}
	return rel, nil
}

// pairEdge is a join edge collapsed to the two tables its conditions
// connect, with both sides' condition expressions qualified.
type pairEdge struct {
	a, b   string
	aExprs []expr.Expr
	bExprs []expr.Expr
}

func (m *Model) pairEdges() []pairEdge {
	var edges []joinEdge
	collectEdges(m.root, &edges)
	var out []pairEdge
	for _, e := range edges {
		byPair := map[string]*pairEdge{}
		var order []string
		for _, c := range e.on {
			lref, errL := m.Resolve(c.LeftField)
			rref, errR := m.Resolve(c.RightField)
			if errL != nil || errR != nil {
				continue
			}
			key := lref.Table.name + "\x00" + rref.Table.name
			pe, ok := byPair[key]
			if !ok {
				pe = &pairEdge{a: lref.Table.name, b: rref.Table.name}
				byPair[key] = pe
				order = append(order, key)
			}
			le, _ := lref.Table.dimensionExpr(lref.Dim.Name)
			re, _ := rref.Table.dimensionExpr(rref.Dim.Name)
			pe.aExprs = append(pe.aExprs, expr.Qualify(le, lref.Table.name))
			pe.bExprs = append(pe.bExprs, expr.Qualify(re, rref.Table.name))
		}
		for _, key := range order {
			out = append(out, *byPair[key])
		}
	}
	return out
}

// compileFallback handles queries whose filters span multiple join arms:
// the filter is applied to the raw join tree and the whole query is grouped
// directly over it, trading the pre-aggregation optimization for filter
// correctness on this query only. Only the tables the query references are
// joined, so arms irrelevant to the filter cannot multiply rows.
func (m *Model) compileFallback(keys []groupKey, bases []FieldRef, pushdown map[string][]expr.Expr, crossFilters []expr.Expr, needTables map[string]bool, qualOf map[string]string) (plan.Node, string, error) {
	for _, b := range bases {
		if len(b.Measure.UnnestPath) > 0 {
			return nil, "", ErrMalformedFilterSpec("measure %q requires unnesting and cannot be combined with filters spanning multiple tables", b.Name)
		}
	}
	need := map[string]bool{}
	for t := range needTables {
		need[t] = true
	}
	m.connectTables(need)
	tree, _, err := m.buildRawTree(m.root, need, pushdown)
	if err != nil {
		return nil, "", err
	}
	for _, cond := range crossFilters {
		tree = plan.Filter{Input: tree, Cond: cond}
	}

	if len(bases) == 0 {
		cols := make([]plan.NamedExpr, 0, len(keys))
		for _, k := range keys {
			cols = append(cols, plan.NamedExpr{Alias: k.ref.Name, Expr: k.expr})
		}
		return plan.Distinct{Input: plan.Project{Input: tree, Cols: cols}}, "__dims", nil
	}

	groupBy := make([]plan.NamedExpr, 0, len(keys))
	for _, k := range keys {
		groupBy = append(groupBy, plan.NamedExpr{Alias: k.ref.Name, Expr: k.expr})
	}
	aggs := make([]plan.NamedExpr, 0, len(bases))
	for _, b := range bases {
		aggs = append(aggs, plan.NamedExpr{Alias: b.Name, Expr: expr.Qualify(b.Measure.Expr, b.Table.name)})
		qualOf[b.Name] = "__agg"
	}
	return plan.Aggregate{Input: tree, GroupBy: groupBy, Aggs: aggs}, "__agg", nil
}

// connectTables grows a table set until the join subtree spanning it is
// self-contained: whenever both sides of a join node contain needed tables,
// the tables its conditions reference are needed too.
func (m *Model) connectTables(need map[string]bool) {
	for changed := true; changed; {
		changed = false
		var rec func(n Node) bool
		rec = func(n Node) bool {
			switch t := n.(type) {
			case LeafNode:
				return need[t.Table.name]
			case JoinTree:
				inLeft := rec(t.Left)
				inRight := rec(t.Right)
				if inLeft && inRight {
					for _, c := range t.On {
						for _, f := range []string{c.LeftField, c.RightField} {
							ref, err := m.Resolve(f)
							if err == nil && !need[ref.Table.name] {
								need[ref.Table.name] = true
								changed = true
							}
						}
					}
				}
				return inLeft || inRight
			default:
				return false
			}
		}
		rec(m.root)
	}
}

// compileGrandTotal builds the single-row all-rows aggregate for one base
// measure over its filtered owner table.
func (m *Model) compileGrandTotal(total FieldRef, pushdown map[string][]expr.Expr) (plan.Node, error) {
	owner := total.Table.name
	var rel plan.Node = m.buildScan(owner, pushdown)
	for i, arr := range total.Measure.UnnestPath {
		source := arr
		if i > 0 {
			source = total.Measure.UnnestPath[i-1] + "." + arr
		}
		rel = plan.Unnest{Input: rel, Source: source, As: arr, Alias: owner}
	}
	agg := plan.NamedExpr{Alias: grandTotalAlias(total.Name), Expr: expr.Qualify(total.Measure.Expr, owner)}
	return plan.Aggregate{Input: rel, Aggs: []plan.NamedExpr{agg}}, nil
}

// outputColumns assembles the final projection: group keys from the
// relation they were grouped on, base measures from their partitions,
// calculated measures lowered over the combined relation, all under their
// canonical names.
func (m *Model) outputColumns(keys []groupKey, keyAlias string, requested []FieldRef, qualOf map[string]string) ([]plan.NamedExpr, []string, error) {
	var cols []plan.NamedExpr
	var names []string
	seen := map[string]bool{}

	add := func(alias string, e expr.Expr) {
		if seen[alias] {
			return
		}
		seen[alias] = true
		cols = append(cols, plan.NamedExpr{Alias: alias, Expr: e})
		names = append(names, alias)
	}

	for _, k := range keys {
		add(k.ref.Name, expr.Col(keyAlias+"."+k.ref.Name))
	}
	for _, r := range requested {
		switch r.Kind {
		case KindMeasure:
			add(r.Name, qualifiedMeasureCol(r.Name, qualOf))
		case KindCalculated:
			lowered, err := m.evaluateFormula(r.Calc.Expr)
			if err != nil {
				return nil, nil, err
			}
			qualified := expr.Rewrite(lowered, func(e expr.Expr) expr.Expr {
				if c, ok := e.(expr.Column); ok {
					if sub, ok := qualOf[c.Name]; ok {
						return expr.Col(sub + "." + c.Name)
					}
				}
				return e
			})
			add(r.Name, qualified)
		}
	}
	return cols, names, nil
}

func qualifiedMeasureCol(name string, qualOf map[string]string) expr.Expr {
	if sub, ok := qualOf[name]; ok {
		return expr.Col(sub + "." + name)
	}
	return expr.Col(name)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
