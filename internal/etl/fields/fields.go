// Package fields provides loosely-typed field value coercion shared by the
// validation and transformation engines. Upstream payloads are JSON, so
// values arrive as strings, float64s and bools in arbitrary combinations.
package fields

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"02/01/2006",
	"01/02/2006",
}

// Float coerces a value to a float64. Strings are parsed.
func Float(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Date parses a value as a date against the fixed layout list.
func Date(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Bool reports whether a value is a boolean literal or one of
// true/false/1/0, case-insensitive.
func Bool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(val) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case float64:
		if val == 1 {
			return true, true
		}
		if val == 0 {
			return false, true
		}
	}
	return false, false
}

// String renders a value as its string form.
func String(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Missing reports whether a value counts as absent: nil or an empty string.
func Missing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
