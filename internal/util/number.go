package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reThousandsDot   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComma = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reNumberNoise    = regexp.MustCompile(`[^0-9.,\-+eE]`)
)

// ParseNumber reads spreadsheet text the way stock reports write it:
// "1.234,56", "1,234.56", "$ 10.000", "4". The bool is false when nothing
// numeric could be read.
func ParseNumber(input string) (float64, bool) {
	s := strings.ReplaceAll(input, "\u00A0", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = reNumberNoise.ReplaceAllString(s, "")
	if s == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(normalizeNumericToken(s), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// Coerce returns 0 for anything ParseNumber rejects.
func Coerce(input string) float64 {
	v, _ := ParseNumber(input)
	return v
}

// ToFloat accepts the cell values the store backends hand back.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return ToFloat(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return ParseNumber(t)
	case *float64:
		if t == nil {
			return 0, false
		}
		return ToFloat(*t)
	default:
		return 0, false
	}
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	sign := ""
	if strings.HasPrefix(compact, "-") || strings.HasPrefix(compact, "+") {
		sign, compact = compact[:1], compact[1:]
	}
	if reThousandsDot.MatchString(compact) {
		return sign + strings.ReplaceAll(compact, ".", "")
	}
	if reThousandsComma.MatchString(compact) {
		return sign + strings.ReplaceAll(compact, ",", "")
	}
	lastDot := strings.LastIndex(compact, ".")
	lastComma := strings.LastIndex(compact, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0 && lastComma > lastDot:
		compact = strings.ReplaceAll(compact, ".", "")
		compact = strings.Replace(compact, ",", ".", 1)
	case lastDot >= 0 && lastComma >= 0:
		compact = strings.ReplaceAll(compact, ",", "")
	case lastComma >= 0:
		compact = strings.ReplaceAll(compact, ",", ".")
	}
	return sign + compact
}

func FloatPtr(v float64) *float64 { return &v }
