package storage

import (
	"strconv"
	"strings"
)

// ConvertPlaceholders rewrites a PG-style "$N" query into the embedded
// engine's positional "?" style, reordering params to match:
//
//	ConvertPlaceholders("...$1...$2...", [a,b]) -> ("...?...?...", [a,b])
//
// "= ANY($N)" is recognized as a special case: when the referenced
// parameter is a slice, the whole "= ANY($N)" becomes "IN (?, ?, ...)" with one
// placeholder per element, or "IN (SELECT 1 WHERE 0)" (always false) when
// the slice is empty. Both rewrites happen in a single left-to-right pass
// so a query can mix ANY($N) and plain $N references without
// double-consuming parameters.
func ConvertPlaceholders(sql string, params []any) (string, []any) {
	var b strings.Builder
	out := make([]any, 0, len(params))

	const anyPrefix = "= ANY($"
	i := 0
	for i < len(sql) {
		if sql[i] != '$' {
			// Look for "= ANY($N)" starting here so we don't also match the
			// trailing "$N" as a standalone placeholder.
			if strings.HasPrefix(sql[i:], anyPrefix) {
				if tail, n, consumed, ok := parseDollarNum(sql[i+len("= ANY("):]); ok && tail == ')' {
					if n >= 1 && n <= len(params) {
						if elems, isSlice := toSlice(params[n-1]); isSlice {
							b.WriteString(expandIn(elems, &out))
							i += len("= ANY(") + consumed + 1 // consume "= ANY($N)"
							continue
						}
					}
				}
			}
			b.WriteByte(sql[i])
			i++
			continue
		}

		j := i + 1
		for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(sql[i+1 : j])
		if err != nil || n < 1 || n > len(params) {
			b.WriteString(sql[i:j])
			i = j
			continue
		}
		b.WriteByte('?')
		out = append(out, params[n-1])
		i = j
	}
	return b.String(), out
}

// parseDollarNum parses a leading "$<digits>" from s, returning the
// terminating byte, the parsed number, and how many bytes of s were
// consumed by "$<digits>" (not including the terminator).
func parseDollarNum(s string) (tail byte, n int, consumed int, ok bool) {
	if len(s) == 0 || s[0] != '$' {
		return 0, 0, 0, false
	}
	j := 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == 1 || j >= len(s) {
		return 0, 0, 0, false
	}
	num, err := strconv.Atoi(s[1:j])
	if err != nil {
		return 0, 0, 0, false
	}
	return s[j], num, j, true
}

func expandIn(elems []any, out *[]any) string {
	if len(elems) == 0 {
		return "IN (SELECT 1 WHERE 0)"
	}
	var b strings.Builder
	b.WriteString("IN (")
	for i, el := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
		*out = append(*out, el)
	}
	b.WriteString(")")
	return b.String()
}

// ExpandAny applies only the "= ANY($N)" expansion described above,
// leaving other "$N" placeholders untouched. Exposed separately so the
// two placeholder behaviors (plain conversion, ANY expansion) can each be
// tested in isolation; ConvertPlaceholders performs both in the single
// pass a real adapter needs.
func ExpandAny(sql string, params []any) (string, []any) {
	idx := strings.Index(sql, "= ANY($")
	if idx < 0 {
		return sql, nil
	}
	tail, n, consumed, ok := parseDollarNum(sql[idx+len("= ANY("):])
	if !ok || tail != ')' || n < 1 || n > len(params) {
		return sql, nil
	}
	elems, isSlice := toSlice(params[n-1])
	if !isSlice {
		return sql, nil
	}
	var out []any
	replacement := expandIn(elems, &out)
	end := idx + len("= ANY(") + consumed + 1
	return sql[:idx] + replacement + sql[end:], out
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
