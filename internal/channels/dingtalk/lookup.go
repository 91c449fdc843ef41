package dingtalk

import (
	"math"
	"strconv"
	"strings"
)

// Vendor payloads are decoded into map[string]any; the same field often shows
// up under several spellings (camelCase, snake_case). The helpers below read
// them in a fixed candidate order.

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asArray(v any) []any {
	a, _ := v.([]any)
	return a
}

// truthy mirrors loose truthiness of decoded JSON: nil, "", 0, NaN and false
// are falsy; objects and arrays (even empty) are truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}

// firstTruthy returns the first truthy value among vals, or nil.
func firstTruthy(vals ...any) any {
	for _, v := range vals {
		if truthy(v) {
			return v
		}
	}
	return nil
}

// firstPresent returns the first non-nil value among vals, or nil.
func firstPresent(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// toStr renders a scalar as a string. Numbers are formatted without exponent
// so large millisecond timestamps and numeric ids survive intact.
func toStr(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// pickString returns the first value under keys that is a string with
// non-empty trimmed content, trimmed. Non-string values are skipped.
func pickString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// pickTruthyString returns toStr of the first truthy value under keys.
func pickTruthyString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if truthy(obj[k]) {
			return toStr(obj[k])
		}
	}
	return ""
}

// toNumber converts numbers and numeric strings; ok is false otherwise.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
