package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Setting is one externally adjustable config entry, as rendered by
// `paperlens config show`.
type Setting struct {
	Key    string
	EnvVar string
	Value  string
}

// Settings lists every non-secret key with its effective value, sorted by
// key. Secrets never appear: they are env-only and have no file value to
// show.
func Settings(cfg Config) []Setting {
	out := make([]Setting, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		out = append(out, Setting{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetKey persists one key to the config file. Secrets are refused and routed
// to their environment variable; unknown keys report the settable list.
func SetKey(key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("%s holds a secret; set it with the %s environment variable instead", key, s.env)
		}
		b := newFileBackend(configFilePath())
		if s.typ == kInt {
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s wants an integer: %w", key, err)
			}
			return b.SetInt(key, i)
		}
		return b.SetString(key, value)
	}

	known := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			known = append(known, s.key)
		}
	}
	sort.Strings(known)
	return fmt.Errorf("unknown config key %q (settable keys: %s)", key, strings.Join(known, ", "))
}
