package sqlgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlayer/internal/expr"
	"semlayer/internal/plan"
)

func TestRender_FilteredScan(t *testing.T) {
	t.Parallel()

	node := plan.Filter{
		Input: plan.Scan{Table: "orders", Alias: "orders"},
		Cond:  expr.Binary{Op: expr.OpGt, Left: expr.Col("orders.amount"), Right: expr.Lit(int64(100))},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "orders" AS "orders" WHERE ("orders"."amount" > 100)`, sql)
}

func TestRender_Aggregate(t *testing.T) {
	t.Parallel()

	node := plan.Aggregate{
		Input: plan.Scan{Table: "orders", Alias: "orders"},
		GroupBy: []plan.NamedExpr{
			{Alias: "orders.status", Expr: expr.Col("orders.status")},
		},
		Aggs: []plan.NamedExpr{
			{Alias: "orders.revenue", Expr: expr.Sum(expr.Col("orders.amount"))},
			{Alias: "orders.order_count", Expr: expr.Count()},
		},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "orders"."status" AS "orders.status", SUM("orders"."amount") AS "orders.revenue", COUNT(*) AS "orders.order_count" FROM "orders" AS "orders" GROUP BY 1`,
		sql)
}

func TestRender_DistinctSpine(t *testing.T) {
	t.Parallel()

	node := plan.Distinct{Input: plan.Project{
		Input: plan.Scan{Table: "customers", Alias: "customers"},
		Cols:  []plan.NamedExpr{{Alias: "customers.region", Expr: expr.Col("customers.region")}},
	}}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t, `SELECT DISTINCT "customers"."region" AS "customers.region" FROM "customers" AS "customers"`, sql)
}

func TestRender_NullSafeLeftJoinOfSubplans(t *testing.T) {
	t.Parallel()

	spine := plan.Distinct{Input: plan.Project{
		Input: plan.Scan{Table: "customers", Alias: "customers"},
		Cols:  []plan.NamedExpr{{Alias: "customers.region", Expr: expr.Col("customers.region")}},
	}}
	agg := plan.Aggregate{
		Input: plan.Join{
			Kind:  plan.JoinLeft,
			Left:  plan.Scan{Table: "orders", Alias: "orders"},
			Right: plan.Scan{Table: "customers", Alias: "customers"},
			On:    []plan.JoinCond{{Left: expr.Col("orders.customer_id"), Right: expr.Col("customers.customer_id")}},
		},
		GroupBy: []plan.NamedExpr{{Alias: "customers.region", Expr: expr.Col("customers.region")}},
		Aggs:    []plan.NamedExpr{{Alias: "orders.revenue", Expr: expr.Sum(expr.Col("orders.amount"))}},
	}
	node := plan.Project{
		Input: plan.Join{
			Kind: plan.JoinLeft, Left: spine, Right: agg,
			LeftAlias: "__dims", RightAlias: "__m0",
			On: []plan.JoinCond{{
				Left:     expr.Col("__dims.customers.region"),
				Right:    expr.Col("__m0.customers.region"),
				NullSafe: true,
			}},
		},
		Cols: []plan.NamedExpr{
			{Alias: "customers.region", Expr: expr.Col("__dims.customers.region")},
			{Alias: "orders.revenue", Expr: expr.Col("__m0.orders.revenue")},
		},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "__dims"."customers.region" AS "customers.region", "__m0"."orders.revenue" AS "orders.revenue" FROM `+
			`(SELECT DISTINCT "customers"."region" AS "customers.region" FROM "customers" AS "customers") AS "__dims" LEFT JOIN `+
			`(SELECT "customers"."region" AS "customers.region", SUM("orders"."amount") AS "orders.revenue" FROM "orders" AS "orders" LEFT JOIN "customers" AS "customers" ON "orders"."customer_id" = "customers"."customer_id" GROUP BY 1) AS "__m0" `+
			`ON "__dims"."customers.region" IS NOT DISTINCT FROM "__m0"."customers.region"`,
		sql)
}

func TestRender_FilteredScanInsideJoinStaysSubquery(t *testing.T) {
	t.Parallel()

	node := plan.Join{
		Kind: plan.JoinLeft,
		Left: plan.Scan{Table: "customers", Alias: "customers"},
		Right: plan.Filter{
			Input: plan.Scan{Table: "orders", Alias: "orders"},
			Cond:  expr.Binary{Op: expr.OpEq, Left: expr.Col("orders.status"), Right: expr.Lit("open")},
		},
		On: []plan.JoinCond{{Left: expr.Col("customers.customer_id"), Right: expr.Col("orders.customer_id")}},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM "customers" AS "customers" LEFT JOIN `+
			`(SELECT * FROM "orders" AS "orders" WHERE ("orders"."status" = 'open')) AS "orders" `+
			`ON "customers"."customer_id" = "orders"."customer_id"`,
		sql)
}

func TestRender_NestedJoinIsParenthesized(t *testing.T) {
	t.Parallel()

	inner := plan.Join{
		Kind:  plan.JoinLeft,
		Left:  plan.Scan{Table: "customers", Alias: "customers"},
		Right: plan.Scan{Table: "orders", Alias: "orders"},
		On:    []plan.JoinCond{{Left: expr.Col("customers.customer_id"), Right: expr.Col("orders.customer_id")}},
	}
	node := plan.Join{
		Kind:  plan.JoinLeft,
		Left:  inner,
		Right: plan.Scan{Table: "shipments", Alias: "shipments"},
		On:    []plan.JoinCond{{Left: expr.Col("orders.order_id"), Right: expr.Col("shipments.order_id")}},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM ("customers" AS "customers" LEFT JOIN "orders" AS "orders" ON "customers"."customer_id" = "orders"."customer_id") `+
			`LEFT JOIN "shipments" AS "shipments" ON "orders"."order_id" = "shipments"."order_id"`,
		sql)
}

func TestRender_Unnest(t *testing.T) {
	t.Parallel()

	node := plan.Aggregate{
		Input: plan.Unnest{
			Input:  plan.Scan{Table: "orders", Alias: "orders"},
			Source: "items",
			As:     "items",
			Alias:  "orders",
		},
		Aggs: []plan.NamedExpr{{Alias: "orders.item_total", Expr: expr.Sum(expr.Col("orders.items"))}},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT SUM("orders"."items") AS "orders.item_total" FROM `+
			`(SELECT * EXCLUDE ("items"), unnest("items") AS "items" FROM "orders" AS "orders") AS "orders"`,
		sql)
}

func TestRender_SortAndLimit(t *testing.T) {
	t.Parallel()

	node := plan.Limit{
		N: 10,
		Input: plan.Sort{
			Keys: []plan.SortKey{{Column: "orders.revenue", Desc: true}, {Column: "customers.region"}},
			Input: plan.Project{
				Input:      plan.Scan{Table: "t", Alias: "t"},
				InputAlias: "t",
				Cols: []plan.NamedExpr{
					{Alias: "customers.region", Expr: expr.Col("t.region")},
					{Alias: "orders.revenue", Expr: expr.Col("t.revenue")},
				},
			},
		},
	}
	sql, err := Render(node)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t"."region" AS "customers.region", "t"."revenue" AS "orders.revenue" FROM "t" AS "t" `+
			`ORDER BY "orders.revenue" DESC, "customers.region" LIMIT 10`,
		sql)
}

func TestRenderExpr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   expr.Expr
		want string
	}{
		{"string literal escaped", expr.Lit("O'Brien"), `'O''Brien'`},
		{"bool literal", expr.Lit(true), "TRUE"},
		{"nil literal", expr.Lit(nil), "NULL"},
		{
			"time literal",
			expr.Lit(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)),
			`TIMESTAMP '2024-03-01 12:30:00'`,
		},
		{
			"not equal renders as <>",
			expr.Binary{Op: expr.OpNe, Left: expr.Col("a"), Right: expr.Lit(int64(1))},
			`("a" <> 1)`,
		},
		{
			"is null is postfix",
			expr.Binary{Op: expr.OpIsNull, Left: expr.Col("a")},
			`("a" IS NULL)`,
		},
		{
			"in list",
			expr.Binary{Op: expr.OpIn, Left: expr.Col("r"), Right: expr.List{Items: []expr.Expr{expr.Lit("a"), expr.Lit("b")}}},
			`("r" IN ('a', 'b'))`,
		},
		{
			"ilike keyword",
			expr.Binary{Op: expr.OpILike, Left: expr.Col("r"), Right: expr.Lit("w%")},
			`("r" ILIKE 'w%')`,
		},
		{
			"cast for fractional division",
			expr.Binary{
				Op:    expr.OpDiv,
				Left:  expr.Cast{Type: "DOUBLE", Expr: expr.Col("a")},
				Right: expr.Cast{Type: "DOUBLE", Expr: expr.Col("b")},
			},
			`(CAST("a" AS DOUBLE) / CAST("b" AS DOUBLE))`,
		},
		{
			"time truncation",
			expr.TimeTrunc{Unit: "month", Expr: expr.Col("orders.order_date")},
			`date_trunc('month', "orders"."order_date")`,
		},
		{
			"count distinct",
			expr.CountDistinct(expr.Col("user_id")),
			`COUNT(DISTINCT "user_id")`,
		},
		{
			"raw passthrough",
			expr.Raw{SQL: "CASE WHEN x THEN 1 ELSE 0 END"},
			`(CASE WHEN x THEN 1 ELSE 0 END)`,
		},
		{
			"qualified name splits at first dot only",
			expr.Col("__m0.orders.revenue"),
			`"__m0"."orders.revenue"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := renderExpr(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	t.Parallel()

	// A subplan in FROM position needs an alias to be referenced.
	_, err := Render(plan.Project{
		Input: plan.Aggregate{
			Input: plan.Scan{Table: "t", Alias: "t"},
			Aggs:  []plan.NamedExpr{{Alias: "n", Expr: expr.Count()}},
		},
		Cols: []plan.NamedExpr{{Alias: "n", Expr: expr.Col("n")}},
	})
	require.Error(t, err)

	_, err = renderExpr(expr.Lit(struct{}{}))
	require.Error(t, err)
}
