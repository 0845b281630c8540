package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// SANDBOX ARGUMENT EXTRACTION UTILITIES
// =============================================================================
//
// These functions provide safe, type-aware extraction from values exported out
// of the sandbox (goja's Export). Capability functions receive their arguments
// this way, so they must tolerate whatever a snippet author passes in.
//
// Exported values can be any of these Go types:
//   - string:          JS strings
//   - int64:           JS integers
//   - float64:         JS non-integer numbers (and NaN/Infinity)
//   - bool:            JS booleans
//   - nil:             null / undefined
//   - map[string]any:  plain objects
//   - []any:           arrays
//   - time.Time:       Date objects

// ExtractString extracts a string representation from an exported value.
// Returns "" for nil so optional arguments read naturally.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractInt64 extracts an int64 value from an exported value.
// Returns (value, true) on success, (0, false) if the type is incompatible.
func ExtractInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case time.Time:
		return v.UnixMilli(), true
	default:
		return 0, false
	}
}

// ExtractFloat64 extracts a float64 value from an exported value.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// ExtractBool extracts a boolean; strings "true"/"false" are accepted.
// Returns (value, true) on success, (false, false) if the type is incompatible.
func ExtractBool(arg interface{}) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// ExtractTime extracts a timestamp from epoch milliseconds, a Date or an RFC3339 string.
func ExtractTime(arg interface{}) (time.Time, bool) {
	switch v := arg.(type) {
	case time.Time:
		return v, true
	case int64, int, float64:
		ms, _ := ExtractInt64(v)
		return time.UnixMilli(ms), true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// ExtractStrings extracts a string slice from an exported array.
func ExtractStrings(arg interface{}) []string {
	switch v := arg.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := ExtractString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
