package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is a read-only view over nested map[string]any data, as produced
// by decoding YAML or JSON. Keys are dotted paths ("llm.model" reads
// data["llm"]["model"]); a literal top-level key containing dots wins over
// the nested lookup. Every accessor returns its default when the key is
// missing or the value has the wrong type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

func (c Config) lookup(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}

	var cur any = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Config:
		return m.data, true
	}
	return nil, false
}

// String returns the string at key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.Any(key, nil).(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration at key, or defaultVal.
// Strings are parsed with time.ParseDuration; bare numbers are seconds.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.Any(key, nil).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean at key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.Any(key, nil).(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer at key, or defaultVal. Floats are accepted only
// when they have no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.Any(key, nil).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the number at key, or defaultVal.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.Any(key, nil).(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// StringSlice returns the string list at key, or defaultVal if any element
// is not a string.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch val := c.Any(key, nil).(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}

// Any returns the raw value at key, or defaultVal.
func (c Config) Any(key string, defaultVal any) any {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return defaultVal
}

// Has reports whether key resolves to a value.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// Sub returns the nested section at prefix, or an empty Config.
func (c Config) Sub(prefix string) Config {
	if m, ok := asMap(c.Any(prefix, nil)); ok {
		return New(m)
	}
	return New(nil)
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

// With returns a copy of c where key is set to value. The receiver is not
// modified. Dotted keys create nested sections as needed.
func (c Config) With(key string, value any) Config {
	out := deepCopy(c.data)
	parts := strings.Split(key, ".")
	m := out
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
	return Config{data: out}
}

// WithEnv overlays environment variables onto c. bindings maps a config
// key to the variable that overrides it; unset or empty variables are
// ignored. Values that parse as integers, floats or booleans keep that
// type so the typed accessors see them.
func (c Config) WithEnv(bindings map[string]string) Config {
	return c.withLookup(bindings, os.LookupEnv)
}

func (c Config) withLookup(bindings map[string]string, lookupEnv func(string) (string, bool)) Config {
	out := c
	for key, env := range bindings {
		raw, ok := lookupEnv(env)
		if !ok || raw == "" {
			continue
		}
		out = out.With(key, parseScalar(raw))
	}
	return out
}

func parseScalar(raw string) any {
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
