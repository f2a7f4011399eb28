package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlayer/internal/expr"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	m := salesModel(t)

	t.Run("exact qualified name", func(t *testing.T) {
		t.Parallel()
		ref, err := m.Resolve("orders.revenue")
		require.NoError(t, err)
		assert.Equal(t, "orders.revenue", ref.Name)
		assert.Equal(t, KindMeasure, ref.Kind)
		assert.Equal(t, "orders", ref.Table.Name())
	})
	t.Run("unique suffix", func(t *testing.T) {
		t.Parallel()
		ref, err := m.Resolve("region")
		require.NoError(t, err)
		assert.Equal(t, "customers.region", ref.Name)
		assert.Equal(t, KindDimension, ref.Kind)
	})
	t.Run("ambiguous suffix", func(t *testing.T) {
		t.Parallel()
		_, err := m.Resolve("order_id")
		var ambiguous *AmbiguousFieldError
		require.ErrorAs(t, err, &ambiguous)
		assert.Contains(t, err.Error(), "orders.order_id")
		assert.Contains(t, err.Error(), "shipments.order_id")
	})
	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		_, err := m.Resolve("nonexistent")
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
}

func TestNewModel_Validation(t *testing.T) {
	t.Parallel()

	newLeaf := func(name string) LeafNode {
		tbl := NewTable(name, []Column{{Name: "id", Type: "integer"}})
		require.NoError(t, tbl.DefineDimension(Dimension{Name: "id", Expr: expr.Col("id")}))
		return Leaf(tbl)
	}

	t.Run("duplicate table name", func(t *testing.T) {
		t.Parallel()
		a, b := newLeaf("t"), newLeaf("t")
		_, err := NewModel(Join(a, b, OneToMany, JoinCondition{LeftField: "id", RightField: "id"}))
		var ambiguous *AmbiguousFieldError
		require.ErrorAs(t, err, &ambiguous)
	})
	t.Run("non-cross join without conditions", func(t *testing.T) {
		t.Parallel()
		_, err := NewModel(Join(newLeaf("a"), newLeaf("b"), OneToMany))
		var malformed *MalformedFilterSpecError
		require.ErrorAs(t, err, &malformed)
	})
	t.Run("join condition referencing unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := NewModel(Join(newLeaf("a"), newLeaf("b"), OneToOne,
			JoinCondition{LeftField: "a.id", RightField: "b.missing"}))
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
	t.Run("cross join needs no conditions", func(t *testing.T) {
		t.Parallel()
		m, err := NewModel(Join(newLeaf("a"), newLeaf("b"), Cross))
		require.NoError(t, err)
		assert.Equal(t, []string{"a.id", "b.id"}, m.FieldNames())
	})
}

func TestTableDefinitionErrors(t *testing.T) {
	t.Parallel()

	tbl := NewTable("t", []Column{
		{Name: "id", Type: "integer"},
		{Name: "v", Type: "double"},
		{Name: "tags", Type: "varchar[]"},
	})
	require.NoError(t, tbl.DefineDimension(Dimension{Name: "id", Expr: expr.Col("id")}))

	t.Run("duplicate field name", func(t *testing.T) {
		err := tbl.DefineDimension(Dimension{Name: "id", Expr: expr.Col("id")})
		var ambiguous *AmbiguousFieldError
		require.ErrorAs(t, err, &ambiguous)
	})
	t.Run("dimension referencing unknown column", func(t *testing.T) {
		err := tbl.DefineDimension(Dimension{Name: "bad", Expr: expr.Col("missing")})
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
	t.Run("dimension may reference earlier dimension", func(t *testing.T) {
		require.NoError(t, tbl.DefineDimension(Dimension{
			Name: "id_text", Expr: expr.Cast{Type: "VARCHAR", Expr: expr.Col("id")},
		}))
	})
	t.Run("measure must aggregate", func(t *testing.T) {
		err := tbl.DefineMeasure(Measure{Name: "plain", Expr: expr.Col("v")})
		var malformed *MalformedFilterSpecError
		require.ErrorAs(t, err, &malformed)
	})
	t.Run("measure over unknown column", func(t *testing.T) {
		err := tbl.DefineMeasure(Measure{Name: "bad", Expr: expr.Sum(expr.Col("missing"))})
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
	t.Run("unnest over unknown column", func(t *testing.T) {
		err := tbl.DefineMeasure(Measure{
			Name: "bad_unnest", Expr: expr.CountOf(expr.Col("missing")), UnnestPath: []string{"missing"},
		})
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
	t.Run("unnest exposes element column", func(t *testing.T) {
		require.NoError(t, tbl.DefineMeasure(Measure{
			Name: "tag_count", Expr: expr.CountOf(expr.Col("tags")), UnnestPath: []string{"tags"},
		}))
	})
	t.Run("invalid smallest grain", func(t *testing.T) {
		err := tbl.DefineDimension(Dimension{
			Name: "ts", Expr: expr.Col("v"), IsTime: true, SmallestGrain: Grain("eon"),
		})
		var grainErr *InvalidTimeGrainError
		require.ErrorAs(t, err, &grainErr)
	})
}

func TestSafeJoinSet(t *testing.T) {
	t.Parallel()
	m := salesModel(t)

	tests := []struct {
		owner string
		want  []string
	}{
		{"customers", []string{"customers"}},
		{"orders", []string{"customers", "orders"}},
		{"shipments", []string{"customers", "orders", "shipments"}},
		{"payments", []string{"customers", "orders", "payments"}},
	}
	for _, tt := range tests {
		t.Run(tt.owner, func(t *testing.T) {
			t.Parallel()
			safe := m.safeJoinSet(tt.owner)
			var got []string
			for _, name := range []string{"customers", "orders", "payments", "shipments"} {
				if safe[name] {
					got = append(got, name)
				}
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSafeJoinSet_OneToOneAndCross(t *testing.T) {
	t.Parallel()

	mk := func(name, col string) *Table {
		tbl := NewTable(name, []Column{{Name: col, Type: "integer"}})
		require.NoError(t, tbl.DefineDimension(Dimension{Name: col, Expr: expr.Col(col)}))
		return tbl
	}
	users := mk("users", "user_id")
	profiles := mk("profiles", "user_id")
	settings := mk("settings", "setting_id")

	m, err := NewModel(Join(
		Join(Leaf(users), Leaf(profiles), OneToOne,
			JoinCondition{LeftField: "users.user_id", RightField: "profiles.user_id"}),
		Leaf(settings), Cross))
	require.NoError(t, err)

	// One-to-one edges are safe in both directions; cross edges never are.
	safe := m.safeJoinSet("users")
	assert.True(t, safe["profiles"])
	assert.False(t, safe["settings"])

	safe = m.safeJoinSet("profiles")
	assert.True(t, safe["users"])
	assert.False(t, safe["settings"])
}

func TestParseGrain(t *testing.T) {
	t.Parallel()

	g, err := ParseGrain("month")
	require.NoError(t, err)
	assert.Equal(t, GrainMonth, g)

	_, err = ParseGrain("fortnight")
	var grainErr *InvalidTimeGrainError
	require.ErrorAs(t, err, &grainErr)

	assert.True(t, GrainDay.FinerThan(GrainMonth))
	assert.True(t, GrainSecond.FinerThan(GrainYear))
	assert.False(t, GrainYear.FinerThan(GrainQuarter))
	assert.False(t, GrainDay.FinerThan(GrainDay))
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	m := salesModel(t)

	d := m.Describe()
	assert.Equal(t, []string{"customers", "orders", "shipments", "payments"}, d.Tables)
	assert.Equal(t, []string{"orders.order_date"}, d.TimeDimensions)

	dims := map[string]FieldInfo{}
	for _, f := range d.Dimensions {
		dims[f.Name] = f
	}
	require.Contains(t, dims, "customers.region")
	assert.Equal(t, "customers", dims["customers.region"].Table)
	require.Contains(t, dims, "orders.order_date")
	assert.True(t, dims["orders.order_date"].IsTime)
	assert.Equal(t, string(GrainDay), dims["orders.order_date"].SmallestGrain)

	var measures, calcs []string
	for _, f := range d.Measures {
		measures = append(measures, f.Name)
	}
	for _, f := range d.CalculatedMeasures {
		calcs = append(calcs, f.Name)
	}
	assert.Contains(t, measures, "orders.revenue")
	assert.Contains(t, measures, "shipments.total_weight")
	assert.Contains(t, calcs, "orders.revenue_share")
	assert.Contains(t, calcs, "orders.avg_check")
}
