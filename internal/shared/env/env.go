// Package env reads typed settings from the process environment. A value that
// is unset, blank or unparsable falls back to the default.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func String(key, def string) string {
	return lookup(key, def, func(v string) (string, error) { return v, nil })
}

// StringsCSV splits a comma separated list and drops empty items.
func StringsCSV(key string, def []string) []string {
	out := lookup(key, []string(nil), func(v string) ([]string, error) {
		var items []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, nil
	})
	if len(out) == 0 {
		return def
	}
	return out
}

func Int(key string, def int) int {
	return lookup(key, def, strconv.Atoi)
}

func Duration(key string, def time.Duration) time.Duration {
	return lookup(key, def, time.ParseDuration)
}
