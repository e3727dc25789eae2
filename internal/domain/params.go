package domain

import (
	"fmt"
	"math"
	"strconv"
)

// Params carries loosely typed strategy or policy parameters as decoded from
// YAML, JSON or protobuf Struct values. Accessors coerce the usual numeric
// encodings and wrap failures in ErrConfig.
type Params map[string]any

// Int returns the integer parameter key, or def when it is absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrConfig, key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrConfig, key, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrConfig, key, v)
}

// Float returns the numeric parameter key, or def when it is absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrConfig, key, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrConfig, key, v)
}

// String returns the string parameter key, or def when it is absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrConfig, key, v)
	}
	return s, nil
}

// With returns a shallow copy of p with key set to value.
func (p Params) With(key string, value any) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}
