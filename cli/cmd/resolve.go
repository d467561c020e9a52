package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/imitatoes/cli/config"
)

// Precedence for every setting: explicit flag, then config file, then the
// flag's default.

func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

// resolveOptionalInt returns nil when neither the flag nor the config
// set a value, so the backend default applies.
func resolveOptionalInt(c *cli.Context, name string, cfgVal *int) *int {
	if c.IsSet(name) {
		v := c.Int(name)
		return &v
	}
	return cfgVal
}

// configVal reads a field from an optional config.
func configVal[T any](cfg *config.Config, fn func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return fn(cfg)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}
