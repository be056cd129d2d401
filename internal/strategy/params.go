package strategy

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Params are the raw strategy parameters of a bot configuration. Values
// decoded from JSON arrive as float64, from YAML as int or float64.
type Params map[string]any

// Float returns key as a float64, def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, raw)
	}
}

// Int returns key truncated to an int, def when absent.
func (p Params) Int(key string, def int) (int, error) {
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// paramReader collects the first error across several lookups.
type paramReader struct {
	params Params
	err    error
}

func (r *paramReader) float(key string, def float64) float64 {
	v, err := r.params.Float(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *paramReader) int(key string, def int) int {
	v, err := r.params.Int(key, def)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}
