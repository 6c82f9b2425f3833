package upstream

import (
	"strconv"
	"strings"
)

// Hand is one raw hand object as decoded from the upstream JSON. Upstream
// field names drift between deployments (action vs Action vs action_type),
// and numeric fields occasionally arrive as decorated strings like "0:83" or
// "100b". Accessors consult candidate keys in priority order and parse
// defensively rather than failing on a decoration.
type Hand map[string]interface{}

// Str returns the first non-empty string value among the candidate keys.
func (h Hand) Str(keys ...string) string {
	for _, k := range keys {
		if v, ok := h[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Float returns the first parseable numeric value among the candidate keys.
func (h Hand) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := h[k]; ok {
			if f, ok := ParseAmount(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// FloatOr is Float with a default.
func (h Hand) FloatOr(def float64, keys ...string) float64 {
	if f, ok := h.Float(keys...); ok {
		return f
	}
	return def
}

// Bool returns the first boolish value among the candidate keys. Accepts
// bools, nonzero numbers, and the strings 1/true/y/yes.
func (h Hand) Bool(keys ...string) bool {
	for _, k := range keys {
		v, ok := h[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "1", "true", "y", "yes":
				return true
			case "0", "false", "n", "no", "":
				return false
			}
			// Decorated values like "0:83" fall through the amount parser.
			if f, ok := ParseAmount(t); ok {
				return f != 0
			}
		}
	}
	return false
}

// Map returns a nested object value, or nil.
func (h Hand) Map(key string) map[string]interface{} {
	if v, ok := h[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// ID returns the hand identifier (stub).
func (h Hand) ID() string {
	return h.Str("stub", "id", "hand_id")
}

// ParseAmount converts an upstream numeric value to a float. Strings are
// cut at the first ':' and stripped of a trailing unit suffix before
// parsing, so "0:83" yields 0 and "100b" yields 100.
func ParseAmount(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if i := strings.IndexByte(s, ':'); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
