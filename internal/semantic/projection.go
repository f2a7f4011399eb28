package semantic

import (
	"sort"

	"semlayer/internal/expr"
)

// RequiredColumns computes, per source table, the minimal raw column set
// the backend must scan to answer a query: every group key, measure
// (including the bases behind calculated measures and grand totals), join
// condition, and filter contributes its referenced columns to its owning
// table. Correctness over precision: any unanalyzable expression widens its
// table to all columns, and a raw filter widens every table.
func (m *Model) RequiredColumns(q Query) (map[string][]string, error) {
	needed := map[string]map[string]bool{}
	full := map[string]bool{}

	collect := func(t *Table, e expr.Expr) {
		cols, analyzable := expr.Columns(e)
		if !analyzable {
			full[t.name] = true
			return
		}
		if needed[t.name] == nil {
			needed[t.name] = map[string]bool{}
		}
		for col := range cols {
			// Only raw columns count; struct-field paths exposed by
			// unnesting reduce to their root array column.
			root := col
			for i := 0; i < len(col); i++ {
				if col[i] == '.' {
					root = col[:i]
					break
				}
			}
			if _, ok := t.colTypes[root]; ok {
				needed[t.name][root] = true
			}
		}
	}

	for _, name := range q.Dimensions {
		ref, err := m.Resolve(name)
		if err != nil {
			return nil, err
		}
		if ref.Kind != KindDimension {
			return nil, ErrMalformedFilterSpec("group key %q is a %s, expected a dimension", name, ref.Kind)
		}
		inlined, _ := ref.Table.dimensionExpr(ref.Dim.Name)
		collect(ref.Table, inlined)
	}

	_, bases, totals, err := m.resolveMeasures(q.Measures)
	if err != nil {
		return nil, err
	}
	for _, b := range append(bases, totals...) {
		collect(b.Table, b.Measure.Expr)
		if len(b.Measure.UnnestPath) > 0 {
			if needed[b.Table.name] == nil {
				needed[b.Table.name] = map[string]bool{}
			}
			needed[b.Table.name][b.Measure.UnnestPath[0]] = true
		}
	}

	// Join conditions are always needed when more than one table survives.
	if len(m.order) > 1 {
		var edges []joinEdge
		collectEdges(m.root, &edges)
		for _, e := range edges {
			for _, c := range e.on {
				for _, f := range []string{c.LeftField, c.RightField} {
					ref, err := m.Resolve(f)
					if err != nil {
						return nil, err
					}
					inlined, _ := ref.Table.dimensionExpr(ref.Dim.Name)
					collect(ref.Table, inlined)
				}
			}
		}
	}

	for _, spec := range q.Filters {
		f, err := Normalize(spec)
		if err != nil {
			return nil, err
		}
		tables, analyzable, err := m.filterTables(f)
		if err != nil {
			return nil, err
		}
		if !analyzable {
			// Opaque predicate: no table can be pruned safely.
			for t := range m.tables {
				full[t] = true
			}
			continue
		}
		cond, err := m.filterExpr(f)
		if err != nil {
			return nil, err
		}
		cols, _ := expr.Columns(cond)
		for t := range tables {
			tbl := m.tables[t]
			if needed[t] == nil {
				needed[t] = map[string]bool{}
			}
			for col := range cols {
				// Filter expressions are qualified; strip the table prefix.
				prefix := t + "."
				if len(col) > len(prefix) && col[:len(prefix)] == prefix {
					raw := col[len(prefix):]
					if _, ok := tbl.colTypes[raw]; ok {
						needed[t][raw] = true
					}
				}
			}
		}
	}

	out := map[string][]string{}
	for tname, cols := range needed {
		if full[tname] {
			continue
		}
		var list []string
		for c := range cols {
			list = append(list, c)
		}
		sort.Strings(list)
		out[tname] = list
	}
	for tname := range full {
		t := m.tables[tname]
		var list []string
		for _, c := range t.columns {
			list = append(list, c.Name)
		}
		out[tname] = list
	}
	return out, nil
}
