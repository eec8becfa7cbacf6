package executor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// present reports whether a configuration value counts as set.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	}
	return true
}

// requireConfig names every key of keys that is unset in cfg.
func requireConfig(cfg map[string]any, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !present(cfg[k]) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return missingConfig(missing...)
	}
	return nil
}

func str(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func strOr(cfg map[string]any, key, def string) string {
	if s := str(cfg, key); s != "" {
		return s
	}
	return def
}

func boolOr(cfg map[string]any, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func floatOr(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func intOr(cfg map[string]any, key string, def int) int {
	if f := floatOr(cfg, key, float64(def)); f == float64(int(f)) {
		return int(f)
	}
	return def
}

// object reads a field holding an object or a JSON object string. Unset
// fields yield nil.
func object(cfg map[string]any, key string) (map[string]any, error) {
	switch v := cfg[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, invalidConfig(key, fmt.Errorf("not a JSON object: %w", err))
		}
		return out, nil
	default:
		return nil, invalidConfig(key, fmt.Errorf("expected a JSON object, got %T", v))
	}
}

// jsonValue reads a field holding any JSON value, given either decoded or as
// JSON text.
func jsonValue(cfg map[string]any, key string) (any, error) {
	s, ok := cfg[key].(string)
	if !ok {
		return cfg[key], nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, invalidConfig(key, fmt.Errorf("not valid JSON: %w", err))
	}
	return out, nil
}

// lines reads a newline-separated list, or a list of strings.
func lines(cfg map[string]any, key string) []string {
	var raw []string
	switch v := cfg[key].(type) {
	case string:
		raw = strings.Split(v, "\n")
	case []string:
		raw = v
	case []any:
		for _, x := range v {
			raw = append(raw, fmt.Sprint(x))
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalidConfig(key, fmt.Errorf("%q is not one of %s", value, strings.Join(allowed, ", ")))
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
