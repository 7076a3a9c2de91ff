package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "EMBER_"

// LookupFunc reads an environment variable; os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// envSetter applies one variable's value.
type envSetter func(cfg *Config, value string) error

var envMapping = map[string]envSetter{
	"EMBER_KILN_PATH":   func(c *Config, v string) error { c.KilnPath = v; return nil },
	"EMBER_GLOBAL_ROOT": func(c *Config, v string) error { c.GlobalRoot = v; return nil },
	"EMBER_LOG_LEVEL":   func(c *Config, v string) error { c.Log.Level = v; return nil },
	"EMBER_LOG_FORMAT":  func(c *Config, v string) error { c.Log.Format = v; return nil },
	"EMBER_BUS_MAX_EVENTS": func(c *Config, v string) error {
		return parseInt(v, &c.Bus.MaxEvents)
	},
	"EMBER_BUS_MAX_DEPTH": func(c *Config, v string) error {
		return parseInt(v, &c.Bus.MaxDepth)
	},
	"EMBER_BUS_HANDLER_TIMEOUT": func(c *Config, v string) error {
		return parseDuration(v, &c.Bus.HandlerTimeout)
	},
	"EMBER_LUA_POOL_SIZE": func(c *Config, v string) error {
		return parseInt(v, &c.Lua.PoolSize)
	},
	"EMBER_LUA_CALL_TIMEOUT": func(c *Config, v string) error {
		return parseDuration(v, &c.Lua.CallTimeout)
	},
	"EMBER_WATCH_ENABLED": func(c *Config, v string) error {
		return parseBool(v, &c.Watch.Enabled)
	},
	"EMBER_WATCH_DEBOUNCE": func(c *Config, v string) error {
		return parseDuration(v, &c.Watch.Debounce)
	},
}

// EnvVars lists the recognised environment variables.
func EnvVars() []string {
	out := make([]string, 0, len(envMapping))
	for k := range envMapping {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ApplyEnv applies every set EMBER_* variable to cfg. Empty values count
// as set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, name := range EnvVars() {
		val, ok := lookup(name)
		if !ok {
			continue
		}
		if err := envMapping[name](cfg, val); err != nil {
			return &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	}
	return nil
}

func parseInt(s string, dst *int) error {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*dst = v
	return nil
}

func parseDuration(s string, dst *Duration) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a duration: %q", s)
	}
	*dst = Duration(v)
	return nil
}

func parseBool(s string, dst *bool) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		*dst = true
	case "false", "no", "off", "0":
		*dst = false
	default:
		return fmt.Errorf("not a boolean: %q", s)
	}
	return nil
}
