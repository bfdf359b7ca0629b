package module

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Params are the non-reserved keys of a module's configuration entry, as
// decoded from YAML.
type Params map[string]any

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Lookup returns the first of keys that is set, with its value.
func (p Params) Lookup(keys ...string) (string, any, bool) {
	for _, key := range keys {
		if v, ok := p[key]; ok {
			return key, v, true
		}
	}
	return "", nil, false
}

// Float returns the first of keys as a number, or def when none is set.
func (p Params) Float(def float64, keys ...string) (float64, error) {
	key, v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("param %q must be finite", key)
		}
		return n, nil
	case float32:
		return float64(n), nil
	}
	return 0, fmt.Errorf("param %q must be a number, got %T", key, v)
}

// Int returns the first of keys as an integer, or def when none is set.
func (p Params) Int(def int, keys ...string) (int, error) {
	key, v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n >= math.MinInt && n <= math.MaxInt {
			return int(n), nil
		}
	case uint64:
		if n <= math.MaxInt {
			return int(n), nil
		}
	case float64:
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
		if n == math.Trunc(n) && n >= math.MinInt && n < float64(math.MaxInt) {
			return int(n), nil
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("param %q must be an integer, got %v", key, v)
}

// String returns the first of keys as a string, or def when none is set.
func (p Params) String(def string, keys ...string) (string, error) {
	key, v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", fmt.Errorf("param %q must be a string, got %T", key, v)
	}
	return s, nil
}

// Bool returns the first of keys as a boolean, or def when none is set.
func (p Params) Bool(def bool, keys ...string) (bool, error) {
	key, v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("param %q must be a boolean, got %T", key, v)
	}
	return b, nil
}

// Duration accepts a Go duration string ("250ms") or a number of seconds.
func (p Params) Duration(def time.Duration, keys ...string) (time.Duration, error) {
	key, v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("param %q: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("param %q must be a duration, got %T", key, v)
}
