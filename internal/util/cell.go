package util

import (
	"fmt"
	"strconv"
	"strings"
)

// CellText renders a store or spreadsheet cell the way a person would type
// it back: trimmed, integers without a decimal point.
func CellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// CellFloat coerces a cell to a number, 0 when blank or not numeric.
func CellFloat(v any) float64 {
	f, _ := ToFloat(v)
	return f
}

// CellFloatPtr is CellFloat for nullable columns: blank or unparseable
// cells are nil.
func CellFloatPtr(v any) *float64 {
	f, ok := ToFloat(v)
	if !ok {
		return nil
	}
	return &f
}
