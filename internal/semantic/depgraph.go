package semantic

import (
	"sort"

	"semlayer/internal/expr"
)

// DepNodeType tags a dependency-graph node. "column" marks a dependency on
// raw storage rather than on a semantic field.
type DepNodeType string

const (
	DepDimension  DepNodeType = "dimension"
	DepMeasure    DepNodeType = "measure"
	DepCalculated DepNodeType = "calculated_measure"
	DepColumn     DepNodeType = "column"
)

// DepNode is one entry of a dependency graph: its type and its direct
// dependencies keyed by name.
type DepNode struct {
	Type DepNodeType
	Deps map[string]DepNodeType
}

// DepGraph maps field names to their direct dependencies. It is built from
// definitions alone and used for introspection and impact analysis; the
// aggregation compiler does not consult it but shares its field-resolution
// logic.
type DepGraph map[string]DepNode

// DependencyGraph builds the field-to-field dependency graph for the whole
// model, with names qualified the same way the namespace exposes them.
func (m *Model) DependencyGraph() DepGraph {
	g := DepGraph{}
	for _, tname := range m.order {
		t := m.tables[tname]

		// Dimensions resolve progressively: an expression's references are
		// classified against the dimensions defined before it.
		known := map[string]bool{}
		for _, d := range t.dims {
			deps := map[string]DepNodeType{}
			if cols, ok := expr.Columns(d.Expr); ok {
				for col := range cols {
					if known[col] {
						deps[m.qualifiedName(t, col)] = DepDimension
					} else {
						deps[col] = DepColumn
					}
				}
			}
			g[m.qualifiedName(t, d.Name)] = DepNode{Type: DepDimension, Deps: deps}
			known[d.Name] = true
		}

		for _, ms := range t.measures {
			deps := map[string]DepNodeType{}
			if cols, ok := expr.Columns(ms.Expr); ok {
				for col := range cols {
					deps[col] = DepColumn
				}
			}
			g[m.qualifiedName(t, ms.Name)] = DepNode{Type: DepMeasure, Deps: deps}
		}

		for _, c := range t.calcs {
			deps := map[string]DepNodeType{}
			collectFormulaRefs(c.Expr, func(name string) {
				if ref, err := m.Resolve(name); err == nil {
					kind := DepMeasure
					if ref.Kind == KindCalculated {
						kind = DepCalculated
					}
					deps[ref.Name] = kind
				} else {
					deps[name] = DepColumn
				}
			})
			g[m.qualifiedName(t, c.Name)] = DepNode{Type: DepCalculated, Deps: deps}
		}
	}
	return g
}

func collectFormulaRefs(e MeasureExpr, fn func(string)) {
	switch n := e.(type) {
	case MeasureRef:
		fn(n.Name)
	case GrandTotalOf:
		fn(n.Ref.Name)
	case MeasureBinary:
		collectFormulaRefs(n.Left, fn)
		collectFormulaRefs(n.Right, fn)
	}
}

// Predecessors returns everything name depends on, breadth-first, up to
// maxDepth hops. maxDepth <= 0 means unlimited.
func (g DepGraph) Predecessors(name string, maxDepth int) []string {
	return g.traverse(name, maxDepth)
}

// Successors returns everything that depends on name, up to maxDepth hops.
func (g DepGraph) Successors(name string, maxDepth int) []string {
	return g.Invert().traverse(name, maxDepth)
}

func (g DepGraph) traverse(start string, maxDepth int) []string {
	type item struct {
		name  string
		depth int
	}
	var out []string
	seen := map[string]bool{start: true}
	queue := []item{{start, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}
		node, ok := g[cur.name]
		if !ok {
			continue
		}
		var next []string
		for dep := range node.Deps {
			next = append(next, dep)
		}
		sort.Strings(next)
		for _, dep := range next {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, item{dep, cur.depth + 1})
		}
	}
	return out
}

// Invert reverses every edge, producing the dependents graph. Column nodes
// appear as sources in the result even though they have no definition.
func (g DepGraph) Invert() DepGraph {
	inv := DepGraph{}
	for name, node := range g {
		if _, ok := inv[name]; !ok {
			inv[name] = DepNode{Type: node.Type, Deps: map[string]DepNodeType{}}
		}
		for dep, depType := range node.Deps {
			target, ok := inv[dep]
			if !ok {
				target = DepNode{Type: depType, Deps: map[string]DepNodeType{}}
			}
			target.Deps[name] = node.Type
			inv[dep] = target
		}
	}
	return inv
}

// GraphExport is the JSON-serializable form of a dependency graph.
type GraphExport struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is one exported node.
type GraphNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// GraphEdge is one exported edge, pointing from a field to its dependency.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Export flattens the graph for JSON consumers, with nodes and edges in
// deterministic order.
func (g DepGraph) Export() GraphExport {
	nodeSet := map[string]DepNodeType{}
	for name, node := range g {
		nodeSet[name] = node.Type
	}
	for _, node := range g {
		for dep, depType := range node.Deps {
			if _, ok := nodeSet[dep]; !ok {
				nodeSet[dep] = depType
			}
		}
	}
	var ids []string
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := GraphExport{}
	for _, id := range ids {
		out.Nodes = append(out.Nodes, GraphNode{ID: id, Type: string(nodeSet[id])})
	}
	var sources []string
	for name := range g {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	for _, src := range sources {
		var deps []string
		for dep := range g[src].Deps {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			out.Edges = append(out.Edges, GraphEdge{Source: src, Target: dep, Type: string(g[src].Deps[dep])})
		}
	}
	return out
}
