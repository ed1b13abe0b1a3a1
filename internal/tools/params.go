package tools

import (
	"encoding/json"
	"fmt"
)

// String reads a string parameter, returning def when absent or empty.
func String(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// RequiredString reads a string parameter that must be present.
func RequiredString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

// Int reads a numeric parameter. JSON numbers arrive as float64.
func Int(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Bool reads a boolean parameter.
func Bool(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// Decode re-marshals a loosely typed parameter into out. Used for structured
// arguments such as an analysis report passed back by the model.
func Decode(params map[string]interface{}, key string, out interface{}) error {
	raw, ok := params[key]
	if !ok {
		return fmt.Errorf("%s parameter is required", key)
	}
	if s, isString := raw.(string); isString {
		return json.Unmarshal([]byte(s), out)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
