package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV(t *testing.T) {
	t.Run("header and rows", func(t *testing.T) {
		stats, err := CSV([]byte("test_col,name\n1,alpha\n2,\"b,eta\"\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"test_col", "name"}, stats.Columns)
		assert.Equal(t, 2, stats.Rows)
	})

	t.Run("header only", func(t *testing.T) {
		stats, err := CSV([]byte("test_col\n"))
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Rows)
	})

	t.Run("empty body", func(t *testing.T) {
		stats, err := CSV([]byte("  \n"))
		require.NoError(t, err)
		assert.Empty(t, stats.Columns)
	})

	t.Run("ragged rows", func(t *testing.T) {
		_, err := CSV([]byte("a,b\n1,2\n3\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 2")
	})

	t.Run("empty header column", func(t *testing.T) {
		_, err := CSV([]byte("a,,c\n1,2,3\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "column 2")
	})
}

func TestJSON(t *testing.T) {
	assert.NoError(t, JSON([]byte(`[{"test_col":1}]`), ""))
	assert.NoError(t, JSON([]byte(`[]`), ""))

	err := JSON([]byte(`{"error":"not_found"}`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")

	err = JSON([]byte(`[1, 2]`), "")
	require.Error(t, err)

	custom := `{"type":"object","required":["rows"]}`
	assert.NoError(t, JSON([]byte(`{"rows":[]}`), custom))
	assert.Error(t, JSON([]byte(`{}`), custom))
}
