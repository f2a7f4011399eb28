package declarative

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlayer/internal/semantic"
)

const salesYAML = `apiVersion: semlayer/v1
kind: Model
metadata:
  name: sales
  description: Orders with their customers.
spec:
  tables:
    - name: customers
      columns:
        - name: customer_id
          type: INTEGER
        - name: region
          type: VARCHAR
      dimensions:
        - name: customer_id
          column: customer_id
        - name: region
          column: region
    - name: orders
      columns:
        - name: order_id
          type: INTEGER
        - name: customer_id
          type: INTEGER
        - name: amount
          type: DOUBLE
        - name: order_date
          type: DATE
        - name: items
          type: DOUBLE[]
      dimensions:
        - name: order_id
          column: order_id
        - name: customer_id
          column: customer_id
        - name: order_date
          column: order_date
          time: true
          smallestGrain: day
        - name: amount_band
          sql: CASE WHEN amount >= 400 THEN 'large' ELSE 'small' END
      measures:
        - name: revenue
          type: SUM
          column: amount
        - name: order_count
          type: COUNT
        - name: item_total
          type: SUM
          column: items
          unnest: [items]
      calculated:
        - name: avg_check
          ratio:
            numerator: revenue
            denominator: order_count
        - name: revenue_share
          shareOfTotal: revenue
        - name: margin
          formula:
            mul:
              left:
                ref: revenue
              right:
                value: 0.25
  join:
    join:
      left:
        table: customers
      right:
        table: orders
      cardinality: ONE_TO_MANY
      on:
        - left: customers.customer_id
          right: orders.customer_id
`

func writeModel(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "sales.yaml", salesYAML)
	writeModel(t, dir, "notes.txt", "ignored")

	reg, err := LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, reg.Names())
	assert.Equal(t, "Orders with their customers.", reg.Description("sales"))

	m, ok := reg.Model("sales")
	require.True(t, ok)

	// The loaded model compiles end to end.
	p, err := m.Compile(semantic.Query{
		Dimensions: []string{"region"},
		Measures:   []string{"revenue", "avg_check", "revenue_share", "margin"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"customers.region", "orders.revenue", "orders.avg_check",
		"orders.revenue_share", "orders.margin",
	}, p.Columns)
	sql, err := p.SQL()
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT")

	// Unnest measures survive the trip through YAML.
	ref, err := m.Resolve("item_total")
	require.NoError(t, err)
	assert.Equal(t, []string{"items"}, ref.Measure.UnnestPath)
}

func TestLoadDirectory_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown top-level key",
			yaml:    "apiVersion: semlayer/v1\nkind: Model\nbogus: true\nmetadata:\n  name: m\n",
			wantErr: "bogus",
		},
		{
			name:    "wrong apiVersion",
			yaml:    "apiVersion: semlayer/v2\nkind: Model\nmetadata:\n  name: m\n",
			wantErr: "unsupported apiVersion",
		},
		{
			name:    "wrong kind",
			yaml:    "apiVersion: semlayer/v1\nkind: Pipeline\nmetadata:\n  name: m\n",
			wantErr: "unexpected kind",
		},
		{
			name:    "name mismatch",
			yaml:    "apiVersion: semlayer/v1\nkind: Model\nmetadata:\n  name: other\nspec:\n  tables: []\n",
			wantErr: "does not match file name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeModel(t, dir, "m.yaml", tt.yaml)
			_, err := LoadDirectory(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing directory", func(t *testing.T) {
		t.Parallel()
		_, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
	})
}

func TestBuildModel_Validation(t *testing.T) {
	t.Parallel()

	base := func() ModelSpec {
		return ModelSpec{Tables: []TableSpec{{
			Name:    "t",
			Columns: []ColumnSpec{{Name: "id", Type: "INTEGER"}, {Name: "v", Type: "DOUBLE"}},
			Dimensions: []DimensionSpec{
				{Name: "id", Column: "id"},
			},
			Measures: []MeasureSpec{{Name: "total", Type: "SUM", Column: "v"}},
		}}}
	}

	t.Run("single table without join", func(t *testing.T) {
		t.Parallel()
		m, err := BuildModel(base())
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "total"}, m.FieldNames())
	})
	t.Run("no tables", func(t *testing.T) {
		t.Parallel()
		_, err := BuildModel(ModelSpec{})
		assert.ErrorContains(t, err, "no tables")
	})
	t.Run("two tables need a join tree", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables = append(spec.Tables, TableSpec{Name: "u", Columns: []ColumnSpec{{Name: "id", Type: "INTEGER"}}})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "requires a join tree")
	})
	t.Run("dimension needs column or sql", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Dimensions = append(spec.Tables[0].Dimensions, DimensionSpec{Name: "empty"})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "either column or sql is required")
	})
	t.Run("dimension cannot set both", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Dimensions = append(spec.Tables[0].Dimensions,
			DimensionSpec{Name: "both", Column: "v", SQL: "v + 1"})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "mutually exclusive")
	})
	t.Run("measure needs a type", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Measures = append(spec.Tables[0].Measures, MeasureSpec{Name: "x", Column: "v"})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "type is required")
	})
	t.Run("sum needs an operand", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Measures = append(spec.Tables[0].Measures, MeasureSpec{Name: "x", Type: "SUM"})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "requires a column or sql operand")
	})
	t.Run("unknown measure type", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Measures = append(spec.Tables[0].Measures, MeasureSpec{Name: "x", Type: "MEDIAN", Column: "v"})
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "unsupported measure type")
	})
	t.Run("calculated needs exactly one variant", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Calculated = []CalculatedSpec{{
			Name:         "x",
			ShareOfTotal: "total",
			Ratio:        &RatioSpec{Numerator: "total", Denominator: "total"},
		}}
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "exactly one of ratio, shareOfTotal, and formula")
	})
	t.Run("formula node needs exactly one field", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables[0].Calculated = []CalculatedSpec{{
			Name:    "x",
			Formula: &FormulaSpec{},
		}}
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "exactly one of ref, value, total")
	})
	t.Run("join references undeclared table", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Join = &JoinNodeSpec{Table: "ghost"}
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "undeclared table")
	})
	t.Run("bad cardinality", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables = append(spec.Tables, TableSpec{
			Name:       "u",
			Columns:    []ColumnSpec{{Name: "id", Type: "INTEGER"}},
			Dimensions: []DimensionSpec{{Name: "id", Column: "id"}},
		})
		spec.Join = &JoinNodeSpec{Join: &JoinEdgeSpec{
			Left:        JoinNodeSpec{Table: "t"},
			Right:       JoinNodeSpec{Table: "u"},
			Cardinality: "MANY_TO_MANY",
			On:          []JoinCondSpec{{Left: "t.id", Right: "u.id"}},
		}}
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "unsupported cardinality")
	})
	t.Run("cross join with conditions", func(t *testing.T) {
		t.Parallel()
		spec := base()
		spec.Tables = append(spec.Tables, TableSpec{
			Name:       "u",
			Columns:    []ColumnSpec{{Name: "id", Type: "INTEGER"}},
			Dimensions: []DimensionSpec{{Name: "id", Column: "id"}},
		})
		spec.Join = &JoinNodeSpec{Join: &JoinEdgeSpec{
			Left:        JoinNodeSpec{Table: "t"},
			Right:       JoinNodeSpec{Table: "u"},
			Cardinality: "CROSS",
			On:          []JoinCondSpec{{Left: "t.id", Right: "u.id"}},
		}}
		_, err := BuildModel(spec)
		assert.ErrorContains(t, err, "CROSS join must not carry conditions")
	})
}
