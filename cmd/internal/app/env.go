package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads WEBUI_* variables. Unset or blank keys take the default;
// keys whose value does not parse also take the default and are remembered
// so startup can report them.
type envReader struct {
	invalid []string
}

func lookup[T any](e *envReader, key string, def T, parse func(string) (T, bool)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	out, ok := parse(v)
	if !ok {
		e.invalid = append(e.invalid, key)
		return def
	}
	return out
}

func (e *envReader) String(key, def string) string {
	return lookup(e, key, def, func(v string) (string, bool) { return v, true })
}

func (e *envReader) Bool(key string, def bool) bool {
	return lookup(e, key, def, func(v string) (bool, bool) {
		b, err := strconv.ParseBool(v)
		return b, err == nil
	})
}

// Int accepts positive values only.
func (e *envReader) Int(key string, def int) int {
	return lookup(e, key, def, func(v string) (int, bool) {
		n, err := strconv.Atoi(v)
		return n, err == nil && n > 0
	})
}

// Int32 accepts zero and positive values.
func (e *envReader) Int32(key string, def int32) int32 {
	return lookup(e, key, def, func(v string) (int32, bool) {
		n, err := strconv.ParseInt(v, 10, 32)
		return int32(n), err == nil && n >= 0
	})
}

// Duration accepts Go duration syntax or whole seconds. "0" selects the
// default.
func (e *envReader) Duration(key string, def time.Duration) time.Duration {
	return lookup(e, key, def, func(v string) (time.Duration, bool) {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			if n == 0 {
				return def, true
			}
			return time.Duration(n) * time.Second, true
		}
		d, err := time.ParseDuration(v)
		if d == 0 && err == nil {
			return def, true
		}
		return d, err == nil && d > 0
	})
}
