package analytics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// QueryResult is the shape every formatter renders: columns, rows of
// opaque values (already scanned from the driver), a row count, and how
// long the query took to run.
type QueryResult struct {
	Columns         []string
	Rows            [][]any
	RowCount        int
	ExecutionTimeMs float64
}

// Table renders an aligned ASCII table with a humanize-formatted
// "N rows in Dms" footer, e.g. "42 rows in 1.2ms".
func Table(r QueryResult) string {
	widths := make([]int, len(r.Columns))
	for i, c := range r.Columns {
		widths[i] = len(c)
	}
	cellStrings := make([][]string, len(r.Rows))
	for ri, row := range r.Rows {
		cellStrings[ri] = make([]string, len(row))
		for ci, v := range row {
			s := cellString(v)
			cellStrings[ri][ci] = s
			if ci < len(widths) && len(s) > widths[ci] {
				widths[ci] = len(s)
			}
		}
	}

	var b strings.Builder
	writeRow(&b, r.Columns, widths)
	writeSeparator(&b, widths)
	for _, row := range cellStrings {
		writeRow(&b, row, widths)
	}
	fmt.Fprintf(&b, "%s rows in %s\n", humanize.Comma(int64(r.RowCount)), humanizeDuration(r.ExecutionTimeMs))
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		fmt.Fprintf(b, "%-*s  ", w, cell)
	}
	b.WriteByte('\n')
}

func writeSeparator(b *strings.Builder, widths []int) {
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w))
		b.WriteString("  ")
	}
	b.WriteByte('\n')
}

// humanizeDuration renders a millisecond duration the way humanize's own
// duration-free formatting conventions do elsewhere in this codebase:
// sub-second in milliseconds, otherwise in seconds.
func humanizeDuration(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// JSON renders the result as a single compact JSON object:
// {"columns":[...],"rows":[[...]],"rowCount":N,"executionTimeMs":D}.
func JSON(r QueryResult) (string, error) {
	b, err := json.Marshal(map[string]any{
		"columns":         r.Columns,
		"rows":            r.Rows,
		"rowCount":        r.RowCount,
		"executionTimeMs": r.ExecutionTimeMs,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSONL renders one JSON object per row, keyed by column name.
func JSONL(r QueryResult) (string, error) {
	var b strings.Builder
	for _, row := range r.Rows {
		obj := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				obj[c] = row[i]
			}
		}
		line, err := json.Marshal(obj)
		if err != nil {
			return "", err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// CSV renders RFC-4180: fields containing a comma, quote, or newline are
// quoted with embedded quotes doubled; nil/undefined values render empty.
func CSV(r QueryResult) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(r.Columns); err != nil {
		return "", err
	}
	for _, row := range r.Rows {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = cellString(v)
		}
		if err := w.Write(fields); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
