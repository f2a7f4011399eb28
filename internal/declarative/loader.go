package declarative

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"semlayer/internal/expr"
	"semlayer/internal/semantic"
)

// Registry holds the models loaded from a config directory, keyed by name.
type Registry struct {
	models       map[string]*semantic.Model
	descriptions map[string]string
}

// Model returns the named model.
func (r *Registry) Model(name string) (*semantic.Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Names returns the loaded model names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Description returns the model's metadata description, "" if none.
func (r *Registry) Description(name string) string {
	return r.descriptions[name]
}

// LoadDirectory reads every .yaml file in dir as a model document and builds
// the models. File names (minus extension) are the model names.
func LoadDirectory(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("model directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model directory: %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model directory: %w", err)
	}

	reg := &Registry{
		models:       map[string]*semantic.Model{},
		descriptions: map[string]string{},
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		modelName := strings.TrimSuffix(entry.Name(), ".yaml")
		path := filepath.Join(dir, entry.Name())

		doc, err := loadModelFile(path)
		if err != nil {
			return nil, err
		}
		if doc.Metadata.Name != modelName {
			return nil, fmt.Errorf("%s: metadata.name %q does not match file name %q", path, doc.Metadata.Name, modelName)
		}

		model, err := BuildModel(doc.Spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		reg.models[modelName] = model
		reg.descriptions[modelName] = doc.Metadata.Description
	}

	return reg, nil
}

// loadModelFile reads and strictly decodes one model document.
func loadModelFile(path string) (*ModelDoc, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified config files
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc ModelDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if doc.APIVersion != SupportedAPIVersion {
		return nil, fmt.Errorf("%s: unsupported apiVersion %q (expected %q)", path, doc.APIVersion, SupportedAPIVersion)
	}
	if doc.Kind != KindNameModel {
		return nil, fmt.Errorf("%s: unexpected kind %q (expected %q)", path, doc.Kind, KindNameModel)
	}
	return &doc, nil
}

// BuildModel turns a decoded spec into a compiled-against semantic model.
func BuildModel(spec ModelSpec) (*semantic.Model, error) {
	if len(spec.Tables) == 0 {
		return nil, fmt.Errorf("model has no tables")
	}

	tables := map[string]*semantic.Table{}
	for _, ts := range spec.Tables {
		t, err := buildTable(ts)
		if err != nil {
			return nil, err
		}
		if _, dup := tables[ts.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", ts.Name)
		}
		tables[ts.Name] = t
	}

	var root semantic.Node
	switch {
	case spec.Join == nil && len(spec.Tables) == 1:
		root = semantic.Leaf(tables[spec.Tables[0].Name])
	case spec.Join == nil:
		return nil, fmt.Errorf("model with %d tables requires a join tree", len(spec.Tables))
	default:
		var err error
		root, err = buildJoinNode(*spec.Join, tables)
		if err != nil {
			return nil, err
		}
	}

	return semantic.NewModel(root)
}

func buildTable(ts TableSpec) (*semantic.Table, error) {
	if ts.Name == "" {
		return nil, fmt.Errorf("table with empty name")
	}
	cols := make([]semantic.Column, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = semantic.Column{Name: c.Name, Type: strings.ToLower(c.Type)}
	}
	t := semantic.NewTable(ts.Name, cols)

	for _, ds := range ts.Dimensions {
		e, err := fieldExpr(ds.Column, ds.SQL)
		if err != nil {
			return nil, fmt.Errorf("table %q dimension %q: %w", ts.Name, ds.Name, err)
		}
		dim := semantic.Dimension{Name: ds.Name, Expr: e, IsTime: ds.Time}
		if ds.SmallestGrain != "" {
			g, err := semantic.ParseGrain(ds.SmallestGrain)
			if err != nil {
				return nil, fmt.Errorf("table %q dimension %q: %w", ts.Name, ds.Name, err)
			}
			dim.SmallestGrain = g
		}
		if err := t.DefineDimension(dim); err != nil {
			return nil, err
		}
	}

	for _, ms := range ts.Measures {
		agg, err := measureExpr(ms)
		if err != nil {
			return nil, fmt.Errorf("table %q measure %q: %w", ts.Name, ms.Name, err)
		}
		if err := t.DefineMeasure(semantic.Measure{Name: ms.Name, Expr: agg, UnnestPath: ms.Unnest}); err != nil {
			return nil, err
		}
	}

	for _, cs := range ts.Calculated {
		formula, err := calculatedExpr(cs)
		if err != nil {
			return nil, fmt.Errorf("table %q calculated %q: %w", ts.Name, cs.Name, err)
		}
		if err := t.DefineCalculatedMeasure(semantic.CalculatedMeasure{Name: cs.Name, Expr: formula}); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// fieldExpr resolves the column/sql pair of a dimension: exactly one side
// must be set.
func fieldExpr(column, sql string) (expr.Expr, error) {
	switch {
	case column != "" && sql != "":
		return nil, fmt.Errorf("column and sql are mutually exclusive")
	case column != "":
		return expr.Col(column), nil
	case sql != "":
		return expr.Raw{SQL: sql}, nil
	default:
		return nil, fmt.Errorf("either column or sql is required")
	}
}

func measureExpr(ms MeasureSpec) (expr.Expr, error) {
	var operand expr.Expr
	switch {
	case ms.Column != "" && ms.SQL != "":
		return nil, fmt.Errorf("column and sql are mutually exclusive")
	case ms.Column != "":
		operand = expr.Col(ms.Column)
	case ms.SQL != "":
		operand = expr.Raw{SQL: ms.SQL}
	}

	switch ms.Type {
	case MeasureTypeCount:
		if operand == nil {
			return expr.Count(), nil
		}
		return expr.CountOf(operand), nil
	case "":
		return nil, fmt.Errorf("type is required")
	}

	if operand == nil {
		return nil, fmt.Errorf("%s requires a column or sql operand", ms.Type)
	}
	switch ms.Type {
	case MeasureTypeSum:
		return expr.Sum(operand), nil
	case MeasureTypeCountDistinct:
		return expr.CountDistinct(operand), nil
	case MeasureTypeAverage:
		return expr.Mean(operand), nil
	case MeasureTypeMin:
		return expr.Min(operand), nil
	case MeasureTypeMax:
		return expr.Max(operand), nil
	default:
		return nil, fmt.Errorf("unsupported measure type %q", ms.Type)
	}
}

func calculatedExpr(cs CalculatedSpec) (semantic.MeasureExpr, error) {
	set := 0
	if cs.Ratio != nil {
		set++
	}
	if cs.ShareOfTotal != "" {
		set++
	}
	if cs.Formula != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of ratio, shareOfTotal, and formula is required")
	}

	switch {
	case cs.Ratio != nil:
		if cs.Ratio.Numerator == "" || cs.Ratio.Denominator == "" {
			return nil, fmt.Errorf("ratio requires numerator and denominator")
		}
		return semantic.Ratio(cs.Ratio.Numerator, cs.Ratio.Denominator), nil
	case cs.ShareOfTotal != "":
		return semantic.ShareOfTotal(cs.ShareOfTotal), nil
	default:
		return formulaExpr(*cs.Formula)
	}
}

func formulaExpr(fs FormulaSpec) (semantic.MeasureExpr, error) {
	set := 0
	if fs.Ref != "" {
		set++
	}
	if fs.Value != nil {
		set++
	}
	if fs.Total != "" {
		set++
	}
	for _, b := range []*BinarySpec{fs.Add, fs.Sub, fs.Mul, fs.Div} {
		if b != nil {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("formula node must set exactly one of ref, value, total, add, sub, mul, div")
	}

	switch {
	case fs.Ref != "":
		return semantic.MeasureRef{Name: fs.Ref}, nil
	case fs.Value != nil:
		return semantic.MeasureLit{Value: *fs.Value}, nil
	case fs.Total != "":
		return semantic.GrandTotalOf{Ref: semantic.MeasureRef{Name: fs.Total}}, nil
	}

	ops := []struct {
		op   semantic.MeasureBinaryOp
		spec *BinarySpec
	}{
		{semantic.MeasureAdd, fs.Add},
		{semantic.MeasureSub, fs.Sub},
		{semantic.MeasureMul, fs.Mul},
		{semantic.MeasureDiv, fs.Div},
	}
	for _, o := range ops {
		if o.spec == nil {
			continue
		}
		left, err := formulaExpr(o.spec.Left)
		if err != nil {
			return nil, err
		}
		right, err := formulaExpr(o.spec.Right)
		if err != nil {
			return nil, err
		}
		return semantic.MeasureBinary{Op: o.op, Left: left, Right: right}, nil
	}
	return nil, fmt.Errorf("formula node must set exactly one of ref, value, total, add, sub, mul, div")
}

func buildJoinNode(spec JoinNodeSpec, tables map[string]*semantic.Table) (semantic.Node, error) {
	switch {
	case spec.Table != "" && spec.Join != nil:
		return nil, fmt.Errorf("join node: table and join are mutually exclusive")
	case spec.Table != "":
		t, ok := tables[spec.Table]
		if !ok {
			return nil, fmt.Errorf("join node references undeclared table %q", spec.Table)
		}
		return semantic.Leaf(t), nil
	case spec.Join != nil:
		left, err := buildJoinNode(spec.Join.Left, tables)
		if err != nil {
			return nil, err
		}
		right, err := buildJoinNode(spec.Join.Right, tables)
		if err != nil {
			return nil, err
		}
		card, err := parseCardinality(spec.Join.Cardinality)
		if err != nil {
			return nil, err
		}
		if card == semantic.Cross && len(spec.Join.On) > 0 {
			return nil, fmt.Errorf("CROSS join must not carry conditions")
		}
		if card != semantic.Cross && len(spec.Join.On) == 0 {
			return nil, fmt.Errorf("%s join requires at least one condition", spec.Join.Cardinality)
		}
		conds := make([]semantic.JoinCondition, len(spec.Join.On))
		for i, c := range spec.Join.On {
			if c.Left == "" || c.Right == "" {
				return nil, fmt.Errorf("join condition requires left and right fields")
			}
			conds[i] = semantic.JoinCondition{LeftField: c.Left, RightField: c.Right}
		}
		return semantic.Join(left, right, card, conds...), nil
	default:
		return nil, fmt.Errorf("join node must set table or join")
	}
}

func parseCardinality(s string) (semantic.Cardinality, error) {
	switch s {
	case CardinalityOneToOne:
		return semantic.OneToOne, nil
	case CardinalityOneToMany:
		return semantic.OneToMany, nil
	case CardinalityCross:
		return semantic.Cross, nil
	default:
		return "", fmt.Errorf("unsupported cardinality %q", s)
	}
}
