package tabular

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one record addressed by column title.
type Row map[string]any

// Table is a named worksheet: ordered header plus records.
type Table struct {
	Columns []string
	Rows    []Row
}

func NewTable(columns ...string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

func (t Table) Len() int {
	return len(t.Rows)
}

func (t Table) Clone() Table {
	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([]Row, 0, len(t.Rows))}
	for _, r := range t.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows = append(out.Rows, cp)
	}
	return out
}

func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Values lays the table out as a header row followed by one slice per record.
func (t Table) Values() [][]any {
	out := make([][]any, 0, len(t.Rows)+1)
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	out = append(out, header)
	for _, r := range t.Rows {
		line := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			v, ok := r[c]
			if !ok || v == nil {
				v = ""
			}
			line[i] = v
		}
		out = append(out, line)
	}
	return out
}

// FromValues treats the first row as header. Blank header cells drop their
// column, short rows are padded and fully blank rows are skipped.
func FromValues(values [][]any) Table {
	if len(values) == 0 {
		return Table{}
	}
	var t Table
	index := make([]int, 0, len(values[0]))
	for i, cell := range values[0] {
		name := strings.TrimSpace(fmt.Sprint(cell))
		if cell == nil || name == "" || t.HasColumn(name) {
			continue
		}
		t.Columns = append(t.Columns, name)
		index = append(index, i)
	}
	for _, line := range values[1:] {
		row := make(Row, len(t.Columns))
		blank := true
		for ci, vi := range index {
			var v any = ""
			if vi < len(line) && line[vi] != nil {
				v = line[vi]
			}
			if s, ok := v.(string); !ok || strings.TrimSpace(s) != "" {
				blank = false
			}
			row[t.Columns[ci]] = v
		}
		if blank {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// UnionColumns keeps the order of a and appends the columns only b has.
func UnionColumns(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, cols := range [][]string{a, b} {
		for _, c := range cols {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Normalize reshapes t onto columns, filling cells it lacks with "".
func Normalize(t Table, columns []string) Table {
	out := Table{Columns: append([]string(nil), columns...), Rows: make([]Row, 0, len(t.Rows))}
	for _, r := range t.Rows {
		row := make(Row, len(columns))
		for _, c := range columns {
			v, ok := r[c]
			if !ok || v == nil {
				v = ""
			}
			row[c] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func Concat(a, b Table) Table {
	columns := UnionColumns(a.Columns, b.Columns)
	left := Normalize(a, columns)
	right := Normalize(b, columns)
	left.Rows = append(left.Rows, right.Rows...)
	return left
}

// Fingerprint hashes the sanitized content so two reads can be compared
// without a version column in the sheet.
func Fingerprint(t Table) string {
	blob, err := json.Marshal(Sanitize(t).Values())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
