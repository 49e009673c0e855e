package export

import (
	"fmt"
	"sort"

	"surveydesk/internal/dotpath"
)

// Row is one reply in wide format.
type Row map[string]any

// BuildRows resolves every column for each answer, groups answers by reply
// and pivots each answer's variable name into a column holding its export
// value. Rows keep the order in which their reply was first seen; input
// order within a reply does not matter.
func BuildRows[T dotpath.Node](answers []T, referenceStudy string, columns []Column) []Row {
	var (
		rows  []Row
		index = map[any]int{}
	)
	for _, a := range answers {
		flat := flatten(a, columns)
		key := flat[colReply]

		i, seen := index[key]
		if !seen {
			i = len(rows)
			index[key] = i
			row := make(Row, len(flat))
			for k, v := range flat {
				row[k] = v
			}
			rows = append(rows, row)
		}
		if name := variableName(flat[colVariable]); name != "" {
			rows[i][name] = flat[colAnswer]
		}
	}

	for _, row := range rows {
		delete(row, colVariable)
		delete(row, colAnswer)
		delete(row, colQType)
		row[colIsReference] = referenceStudy != "" && row[colStudy] == referenceStudy
		for k, v := range row {
			if b, ok := v.(bool); ok {
				row[k] = boolInt(b)
			}
		}
	}
	return rows
}

func flatten(node dotpath.Node, columns []Column) map[string]any {
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			continue
		}
		out[c.Name] = dotpath.Value(node, c.Path)
	}
	return out
}

func variableName(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Headers returns the sorted union of keys across rows.
func Headers(rows []Row) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
