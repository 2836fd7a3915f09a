package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertPlaceholders_Basic(t *testing.T) {
	sql, params := ConvertPlaceholders("select * from t where a=$1 and b=$2", []any{"x", 2})
	require.Equal(t, "select * from t where a=? and b=?", sql)
	require.Equal(t, []any{"x", 2}, params)
}

func TestConvertPlaceholders_ReordersByIndex(t *testing.T) {
	sql, params := ConvertPlaceholders("where b=$2 and a=$1", []any{"A", "B"})
	require.Equal(t, "where b=? and a=?", sql)
	require.Equal(t, []any{"B", "A"}, params)
}

func TestConvertPlaceholders_LiteralDollarPassesThrough(t *testing.T) {
	sql, params := ConvertPlaceholders("select '$' as sign, a=$1", []any{1})
	require.Equal(t, "select '$' as sign, a=?", sql)
	require.Equal(t, []any{1}, params)
}

func TestConvertPlaceholders_AnyExpandsToInList(t *testing.T) {
	sql, params := ConvertPlaceholders("where id = ANY($1)", []any{[]string{"a", "b", "c"}})
	require.Equal(t, "where id IN (?, ?, ?)", sql)
	require.Equal(t, []any{"a", "b", "c"}, params)
}

func TestConvertPlaceholders_AnyEmptySliceIsAlwaysFalse(t *testing.T) {
	sql, params := ConvertPlaceholders("where id = ANY($1)", []any{[]string{}})
	require.Equal(t, "where id IN (SELECT 1 WHERE 0)", sql)
	require.Empty(t, params)
}

func TestConvertPlaceholders_MixedAnyAndPlain(t *testing.T) {
	sql, params := ConvertPlaceholders("where id = ANY($1) and proj=$2", []any{[]int{1, 2}, "p"})
	require.Equal(t, "where id IN (?, ?) and proj=?", sql)
	require.Equal(t, []any{1, 2, "p"}, params)
}

func TestExpandAny_Standalone(t *testing.T) {
	sql, params := ExpandAny("id = ANY($1)", []any{[]int64{7, 8}})
	require.Equal(t, "id IN (?, ?)", sql)
	require.Equal(t, []any{int64(7), int64(8)}, params)
}

func TestExpandAny_NoMatchReturnsUnchanged(t *testing.T) {
	sql, params := ExpandAny("id = $1", []any{1})
	require.Equal(t, "id = $1", sql)
	require.Nil(t, params)
}
