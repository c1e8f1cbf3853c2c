// Package config loads application configuration once at startup. Flags give
// the defaults; environment variables override them, which is how container
// deployments set things.
package config

import (
	"flag"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Config holds all application configuration.
type Config struct {
	Addr         string        `env:"ADDR"`
	HTTP2Addr    string        `env:"HTTP2_ADDR"`
	PoolCapacity int           `env:"POOL_CAPACITY"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT"`
	LogLevel     string        `env:"LOG_LEVEL"`
	Env          string        `env:"ENV"`
}

// New loads configuration from the process arguments and environment.
func New() (*Config, error) {
	return FromArgs(os.Args[1:])
}

// FromArgs loads configuration from the given flag arguments, then applies
// environment overrides and validates the result.
func FromArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("fast-dispatch", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", ":8080", "HTTP/1.1 listen address")
	fs.StringVar(&cfg.HTTP2Addr, "http2-addr", "", "HTTP/2 (h2c) listen address, empty disables")
	fs.IntVar(&cfg.PoolCapacity, "pool-capacity", 1024, "request context pool capacity")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 60*time.Second, "keep-alive idle timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug/info/warn/error)")
	fs.StringVar(&cfg.Env, "env", "development", "environment (development/production)")
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}

	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	if cfg.PoolCapacity <= 0 {
		return nil, errors.Newf("pool capacity must be positive, got %d", cfg.PoolCapacity)
	}
	return cfg, nil
}

// Level parses the configured log level.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return lvl, nil
}

// Production reports whether the app runs in production mode.
func (c *Config) Production() bool {
	return c.Env == "production"
}
