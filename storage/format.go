package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatRow renders one result row as a parenthesised tuple, e.g.
// (1042, 'ONLINE', 0.87). A single column keeps its trailing comma.
func FormatRow(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quote(x)
	case []byte:
		return "b" + quote(string(x))
	case time.Time:
		return quote(x.Format(time.RFC3339))
	default:
		return quote(fmt.Sprint(x))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	switch {
	case f == math.Trunc(f) && abs < 1e16:
		return strconv.FormatFloat(f, 'f', 1, 64)
	case abs >= 1e-4 && abs < 1e16:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return "'" + s + "'"
}
