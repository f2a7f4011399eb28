package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredColumns(t *testing.T) {
	t.Parallel()
	m := salesModel(t)

	t.Run("keys, measures, and join keys", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{
			Dimensions: []string{"region"},
			Measures:   []string{"orders.revenue"},
		})
		require.NoError(t, err)
		// Join conditions keep every table's keys in scope.
		assert.Equal(t, []string{"customer_id", "region"}, got["customers"])
		assert.Equal(t, []string{"amount", "customer_id", "order_id"}, got["orders"])
		assert.Equal(t, []string{"order_id"}, got["shipments"])
		assert.Equal(t, []string{"order_id"}, got["payments"])
	})

	t.Run("calculated measure pulls base columns", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{Measures: []string{"orders.revenue_share"}})
		require.NoError(t, err)
		assert.Contains(t, got["orders"], "amount")
	})

	t.Run("unnest path counts as a column", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{Measures: []string{"orders.item_total"}})
		require.NoError(t, err)
		assert.Contains(t, got["orders"], "items")
	})

	t.Run("filters contribute their columns", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{
			Dimensions: []string{"customers.customer_id"},
			Measures:   []string{"orders.order_count"},
			Filters:    []any{"orders.order_date >= '2024-01-01'"},
		})
		require.NoError(t, err)
		assert.Contains(t, got["orders"], "order_date")
	})

	t.Run("raw filter widens every table", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{
			Dimensions: []string{"region"},
			Measures:   []string{"orders.revenue"},
			Filters:    []any{RawFilter{SQL: "amount > 100"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"customer_id", "region"}, got["customers"])
		assert.Equal(t, []string{"order_id", "customer_id", "amount", "order_date", "items"}, got["orders"])
	})

	t.Run("unanalyzable dimension widens its table", func(t *testing.T) {
		t.Parallel()
		got, err := m.RequiredColumns(Query{
			Dimensions: []string{"amount_band"},
			Measures:   []string{"orders.order_count"},
		})
		require.NoError(t, err)
		// amount_band is an opaque SQL expression over orders.
		assert.Equal(t, []string{"order_id", "customer_id", "amount", "order_date", "items"}, got["orders"])
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := m.RequiredColumns(Query{Dimensions: []string{"nope"}})
		var unknown *UnknownFieldError
		require.ErrorAs(t, err, &unknown)
	})
}
