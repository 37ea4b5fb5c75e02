package catalog

import (
	"encoding/json"
	"fmt"
)

// Value coercion helpers. Predicate values arrive from JSON, so numbers are
// float64, ranges are []any, and so on. Coercion failures are reported with
// the shape the caller expected.

// BoolValue coerces a predicate value to a bool.
func BoolValue(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean value, got %T", v)
	}
	return b, nil
}

// NumberValue coerces a predicate value to a float64.
func NumberValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", v)
	}
}

// RangeValue coerces a predicate value to a [low, high] pair, as required by
// the between operator.
func RangeValue(v any) (low, high float64, err error) {
	pair, ok := v.([]any)
	if !ok {
		if fpair, fok := v.([]float64); fok && len(fpair) == 2 {
			return fpair[0], fpair[1], nil
		}
		return 0, 0, fmt.Errorf("between requires a [low, high] pair, got %T", v)
	}
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("between requires a [low, high] pair, got %d elements", len(pair))
	}
	if low, err = NumberValue(pair[0]); err != nil {
		return 0, 0, fmt.Errorf("between low bound: %w", err)
	}
	if high, err = NumberValue(pair[1]); err != nil {
		return 0, 0, fmt.Errorf("between high bound: %w", err)
	}
	if low > high {
		return 0, 0, fmt.Errorf("between low bound %v exceeds high bound %v", low, high)
	}
	return low, high, nil
}

// StringValue coerces a predicate value to a string.
func StringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string value, got %T", v)
	}
	if s == "" {
		return "", fmt.Errorf("expected non-empty string value")
	}
	return s, nil
}
