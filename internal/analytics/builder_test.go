package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_AccumulatesParametersInWhereThenHavingOrder(t *testing.T) {
	built, err := New().
		Select("agent", "count(*) as n").
		From("events").
		Where("project_key = ?", "proj-1").
		Where("type = ?", "cell_created").
		GroupBy("agent").
		Having("count(*) > ?", 5).
		OrderBy("n DESC").
		Limit(10).
		WithName("top_creators").
		WithDescription("agents ranked by cells created").
		Build()

	require.NoError(t, err)
	require.Equal(t, "top_creators", built.Name)
	require.Equal(t, []any{"proj-1", "cell_created", 5}, built.Parameters)
	require.Contains(t, built.SQL, "GROUP BY agent")
	require.Contains(t, built.SQL, "HAVING count(*) > $3")
	require.Contains(t, built.SQL, "LIMIT 10")
}

func TestBuild_RejectsMissingSelectOrFrom(t *testing.T) {
	_, err := New().From("events").Build()
	require.Error(t, err)

	_, err = New().Select("id").Build()
	require.Error(t, err)
}

func TestCSV_QuotesFieldsContainingCommaOrQuote(t *testing.T) {
	out, err := CSV(QueryResult{
		Columns: []string{"name", "note"},
		Rows: [][]any{
			{"alice", `says "hi", bob`},
			{"bob", nil},
		},
	})
	require.NoError(t, err)
	require.Contains(t, out, `"says ""hi"", bob"`)
	require.Contains(t, out, "bob,\n")
}

func TestTable_RendersFooterWithRowCount(t *testing.T) {
	out := Table(QueryResult{
		Columns:         []string{"id"},
		Rows:            [][]any{{"a"}, {"b"}},
		RowCount:        2,
		ExecutionTimeMs: 1.2,
	})
	require.Contains(t, out, "2 rows in 1.2ms")
}
