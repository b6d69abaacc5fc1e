package channel

import (
	"encoding/json"
	"fmt"
	"math"
)

// Args is a decoded argument dictionary. Values follow encoding/json decoding rules,
// with json.Number accepted wherever a number is expected.
type Args map[string]any

// String returns the string value at key. Absent, null and non-string values report false.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float32s returns the numeric list at key. An absent or null key yields nil.
func (a Args) Float32s(key string) ([]float32, error) {
	items, err := a.list(key)
	if err != nil || items == nil {
		return nil, err
	}
	out := make([]float32, len(items))
	for i, item := range items {
		f, err := toFloat64(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Int64s returns the numeric list at key, truncating fractional values toward zero.
// An absent or null key yields nil.
func (a Args) Int64s(key string) ([]int64, error) {
	items, err := a.list(key)
	if err != nil || items == nil {
		return nil, err
	}
	out := make([]int64, len(items))
	for i, item := range items {
		f, err := toFloat64(item)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%s[%d]: %v is out of range", key, i, f)
		}
		out[i] = int64(f)
	}
	return out, nil
}

func (a Args) list(key string) ([]any, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch items := v.(type) {
	case []any:
		return items, nil
	case []float64:
		out := make([]any, len(items))
		for i, f := range items {
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]any, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of numbers, got %T", key, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
