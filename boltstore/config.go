package boltstore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Path    string        `env:"TIMEVAULT_BOLT_PATH"`
	Timeout time.Duration `env:"TIMEVAULT_BOLT_TIMEOUT"`
}

const (
	DefaultPath = "timevault.db"

	// DefaultTimeout bounds how long Open waits for the file lock
	DefaultTimeout = time.Second
)

func DefaultConfig() Config {
	return Config{
		Path:    DefaultPath,
		Timeout: DefaultTimeout,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by TIMEVAULT_BOLT_*
// environment variables
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
