package tabular

import (
	"fmt"
	"math"
	"time"
)

const TimeLayout = "2006-01-02 15:04:05"

// SanitizeValue converts v into something every backend can serialize.
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, int, int32, int64:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return t
	case float32:
		return SanitizeValue(float64(t))
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return SanitizeValue(*t)
	case *float64:
		if t == nil {
			return ""
		}
		return SanitizeValue(*t)
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func Sanitize(t Table) Table {
	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([]Row, 0, len(t.Rows))}
	for _, r := range t.Rows {
		row := make(Row, len(r))
		for k, v := range r {
			row[k] = SanitizeValue(v)
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}
