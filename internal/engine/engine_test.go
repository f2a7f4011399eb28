package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Executor {
	t.Helper()
	exec, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, exec.Close())
	})
	return exec
}

func TestExecutor_ExecAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := openTestDB(t)

	require.NoError(t, exec.Exec(ctx, `CREATE TABLE t (id INTEGER, name VARCHAR, score DOUBLE)`))
	require.NoError(t, exec.Exec(ctx, `INSERT INTO t VALUES (1, 'a', 1.5), (2, 'b', NULL)`))

	res, err := exec.Query(ctx, `SELECT id, name, score FROM t ORDER BY id`)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "score"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 1, res.Rows[0][0])
	assert.Equal(t, "a", res.Rows[0][1])
	assert.Equal(t, 1.5, res.Rows[0][2])
	assert.Nil(t, res.Rows[1][2])
}

func TestExecutor_QueryError(t *testing.T) {
	t.Parallel()
	exec := openTestDB(t)

	_, err := exec.Query(context.Background(), `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute query")
}

func TestExecutor_ExecError(t *testing.T) {
	t.Parallel()
	exec := openTestDB(t)

	err := exec.Exec(context.Background(), `CREATE TABLE`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute statement")
}

func TestExecutor_EmptyResult(t *testing.T) {
	t.Parallel()
	exec := openTestDB(t)

	res, err := exec.Query(context.Background(), `SELECT 1 AS one WHERE false`)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, res.Columns)
	assert.Equal(t, 0, res.RowCount)
	assert.Empty(t, res.Rows)
}
