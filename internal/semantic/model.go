package semantic

import "strings"

// Cardinality classifies a join edge. The compiler uses it to decide which
// tables can be folded into a measure's pre-aggregation pass without
// multiplying the measure owner's rows.
type Cardinality string

const (
	OneToOne  Cardinality = "one_to_one"
	OneToMany Cardinality = "one_to_many"
	Cross     Cardinality = "cross"
)

// JoinCondition equates a field of the left subtree with a field of the
// right subtree. Field names are resolved in the merged namespace.
type JoinCondition struct {
	LeftField  string
	RightField string
}

// Node is a join-tree node: a leaf table or a join of two subtrees.
type Node interface {
	isJoinNode()
}

// LeafNode wraps a single source table.
type LeafNode struct {
	Table *Table
}

// JoinTree joins two subtrees with a declared cardinality. For OneToMany
// the left side is the "one" side. Cross carries no conditions.
type JoinTree struct {
	Left        Node
	Right       Node
	Cardinality Cardinality
	On          []JoinCondition
}

func (LeafNode) isJoinNode() {}
func (JoinTree) isJoinNode() {}

// Leaf wraps a table as a join-tree leaf.
func Leaf(t *Table) LeafNode { return LeafNode{Table: t} }

// Join composes two nodes. It never mutates its inputs; the same subtree
// can appear in multiple models.
func Join(left, right Node, card Cardinality, on ...JoinCondition) JoinTree {
	return JoinTree{Left: left, Right: right, Cardinality: card, On: on}
}

// FieldKind tags what a resolved name denotes.
type FieldKind int

const (
	KindDimension FieldKind = iota + 1
	KindMeasure
	KindCalculated
)

func (k FieldKind) String() string {
	switch k {
	case KindDimension:
		return "dimension"
	case KindMeasure:
		return "measure"
	case KindCalculated:
		return "calculated_measure"
	default:
		return "unknown"
	}
}

// FieldRef is a resolved field: its canonical (possibly prefixed) name, the
// owning table, and the definition behind it.
type FieldRef struct {
	Name  string
	Kind  FieldKind
	Table *Table

	Dim     Dimension
	Measure Measure
	Calc    CalculatedMeasure
}

// Model is an immutable composed namespace over a join tree. With a single
// leaf, fields keep their bare names; with two or more leaves every field is
// uniformly exposed as "<table>.<field>", conflicting or not.
type Model struct {
	root    Node
	tables  map[string]*Table
	order   []string
	fields  map[string]FieldRef
	names   []string
	prefix  bool
	timeDim []string
}

// NewModel builds the merged namespace for a join tree. Duplicate table
// names and unresolvable join conditions are validation errors.
func NewModel(root Node) (*Model, error) {
	m := &Model{
		root:   root,
		tables: map[string]*Table{},
		fields: map[string]FieldRef{},
	}
	if err := m.collectTables(root); err != nil {
		return nil, err
	}
	m.prefix = len(m.order) > 1
	for _, name := range m.order {
		t := m.tables[name]
		for _, d := range t.dims {
			ref := FieldRef{Name: m.qualifiedName(t, d.Name), Kind: KindDimension, Table: t, Dim: d}
			m.fields[ref.Name] = ref
			m.names = append(m.names, ref.Name)
			if d.IsTime {
				m.timeDim = append(m.timeDim, ref.Name)
			}
		}
		for _, ms := range t.measures {
			ref := FieldRef{Name: m.qualifiedName(t, ms.Name), Kind: KindMeasure, Table: t, Measure: ms}
			m.fields[ref.Name] = ref
			m.names = append(m.names, ref.Name)
		}
		for _, c := range t.calcs {
			ref := FieldRef{Name: m.qualifiedName(t, c.Name), Kind: KindCalculated, Table: t, Calc: c}
			m.fields[ref.Name] = ref
			m.names = append(m.names, ref.Name)
		}
	}
	if err := m.validateJoinConditions(root); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) collectTables(n Node) error {
	switch t := n.(type) {
	case LeafNode:
		if t.Table == nil {
			return ErrUnknownField("join tree contains a nil table")
		}
		if _, dup := m.tables[t.Table.name]; dup {
			return ErrAmbiguousField("table %q appears twice in the join tree", t.Table.name)
		}
		m.tables[t.Table.name] = t.Table
		m.order = append(m.order, t.Table.name)
		return nil
	case JoinTree:
		if err := m.collectTables(t.Left); err != nil {
			return err
		}
		return m.collectTables(t.Right)
	default:
		return ErrUnknownField("unsupported join tree node %T", n)
	}
}

func (m *Model) validateJoinConditions(n Node) error {
	j, ok := n.(JoinTree)
	if !ok {
		return nil
	}
	if j.Cardinality != Cross && len(j.On) == 0 {
		return ErrMalformedFilterSpec("non-cross join requires at least one join condition")
	}
	for _, c := range j.On {
		for _, f := range []string{c.LeftField, c.RightField} {
			ref, err := m.Resolve(f)
			if err != nil {
				return err
			}
			if ref.Kind != KindDimension {
				return ErrMalformedFilterSpec("join condition field %q must be a dimension", f)
			}
		}
	}
	if err := m.validateJoinConditions(j.Left); err != nil {
		return err
	}
	return m.validateJoinConditions(j.Right)
}

func (m *Model) qualifiedName(t *Table, field string) string {
	if m.prefix {
		return t.name + "." + field
	}
	return field
}

// Resolve maps a field name to its definition: exact match first, then the
// unique field whose qualified name ends in ".<name>". Multiple suffix
// matches are a hard AmbiguousFieldError rather than a silent pick.
func (m *Model) Resolve(name string) (FieldRef, error) {
	if ref, ok := m.fields[name]; ok {
		return ref, nil
	}
	suffix := "." + name
	var found []FieldRef
	for _, n := range m.names {
		if strings.HasSuffix(n, suffix) {
			found = append(found, m.fields[n])
		}
	}
	switch len(found) {
	case 0:
		return FieldRef{}, ErrUnknownField("unknown field %q", name)
	case 1:
		return found[0], nil
	default:
		var opts []string
		for _, f := range found {
			opts = append(opts, f.Name)
		}
		return FieldRef{}, ErrAmbiguousField("field %q is ambiguous: matches %s", name, strings.Join(opts, ", "))
	}
}

// Tables returns the model's tables keyed by name.
func (m *Model) Tables() map[string]*Table { return m.tables }

// Table returns one table by name.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.tables[name]
	return t, ok
}

// FieldNames returns every exposed field name in declaration order.
func (m *Model) FieldNames() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// joinEdge is a flattened join node: the table sets on each side plus the
// declared cardinality and conditions.
type joinEdge struct {
	leftTables  map[string]bool
	rightTables map[string]bool
	card        Cardinality
	on          []JoinCondition
}

func subtreeTables(n Node, into map[string]bool) {
	switch t := n.(type) {
	case LeafNode:
		into[t.Table.name] = true
	case JoinTree:
		subtreeTables(t.Left, into)
		subtreeTables(t.Right, into)
	}
}

func collectEdges(n Node, into *[]joinEdge) {
	j, ok := n.(JoinTree)
	if !ok {
		return
	}
	left := map[string]bool{}
	right := map[string]bool{}
	subtreeTables(j.Left, left)
	subtreeTables(j.Right, right)
	*into = append(*into, joinEdge{leftTables: left, rightTables: right, card: j.Cardinality, on: j.On})
	collectEdges(j.Left, into)
	collectEdges(j.Right, into)
}

// safeJoinSet returns the tables whose dimensions can be joined into the
// pre-aggregation pass of a measure owned by owner without multiplying the
// owner's rows: the owner itself plus every table reachable by walking join
// edges toward the "one" side (or across one-to-one edges). Cross edges are
// never safe.
func (m *Model) safeJoinSet(owner string) map[string]bool {
	safe := map[string]bool{}
	m.growSafe(m.root, owner, safe)
	if len(safe) == 0 {
		safe[owner] = true
	}
	return safe
}

// growSafe reports whether start is a table of n, and when it is, adds to
// safe the tables of n reachable from start without row multiplication. A
// crossed edge is entered at its key table: only that table's own safe set
// within the far subtree is safe, not the whole subtree, so a sibling
// many-arm hanging off the far side stays excluded.
func (m *Model) growSafe(n Node, start string, safe map[string]bool) bool {
	switch t := n.(type) {
	case LeafNode:
		if t.Table.name != start {
			return false
		}
		safe[start] = true
		return true
	case JoinTree:
		if m.growSafe(t.Left, start, safe) {
			if t.Cardinality == OneToOne {
				m.enterSide(t.Right, t.On, false, safe)
			}
			return true
		}
		if m.growSafe(t.Right, start, safe) {
			if t.Cardinality == OneToOne || t.Cardinality == OneToMany {
				m.enterSide(t.Left, t.On, true, safe)
			}
			return true
		}
		return false
	default:
		return false
	}
}

// enterSide crosses a join edge into subtree n at the tables its conditions
// reference on that side, growing safe from each entry point.
func (m *Model) enterSide(n Node, on []JoinCondition, leftSide bool, safe map[string]bool) {
	for _, c := range on {
		field := c.RightField
		if leftSide {
			field = c.LeftField
		}
		ref, err := m.Resolve(field)
		if err != nil || safe[ref.Table.name] {
			continue
		}
		m.growSafe(n, ref.Table.name, safe)
	}
}
