package timevault

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

type (
	Config struct {
		Clock      func() time.Time
		Logger     *zap.Logger
		Metrics    *Metrics
		Cache      CacheConfig
		MaxRetries int `env:"TIMEVAULT_MAX_RETRIES"`
	}

	CacheConfig struct {
		Size         int           `env:"TIMEVAULT_CACHE_SIZE"`
		TTL          time.Duration `env:"TIMEVAULT_CACHE_TTL"`
		CurrentTTL   time.Duration `env:"TIMEVAULT_CACHE_CURRENT_TTL"`
		SettleWindow time.Duration `env:"TIMEVAULT_CACHE_SETTLE_WINDOW"`
		WorkerCount  int           `env:"TIMEVAULT_CACHE_WORKERS"`
		MaxQueueSize int           `env:"TIMEVAULT_CACHE_QUEUE_SIZE"`
		SaveTimeout  time.Duration `env:"TIMEVAULT_CACHE_SAVE_TIMEOUT"`
	}
)

const (
	DefaultMaxRetries       = 16
	DefaultCacheSize        = 4096
	DefaultCacheTTL         = time.Hour
	DefaultCacheCurrentTTL  = 0
	DefaultCacheSettle      = 0
	DefaultCacheWorkers     = 4
	DefaultCacheQueueSize   = 1024
	DefaultCacheSaveTimeout = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		Clock:      time.Now,
		Logger:     zap.NewNop(),
		Cache:      DefaultCacheConfig(),
		MaxRetries: DefaultMaxRetries,
	}
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:         DefaultCacheSize,
		TTL:          DefaultCacheTTL,
		CurrentTTL:   DefaultCacheCurrentTTL,
		SettleWindow: DefaultCacheSettle,
		WorkerCount:  DefaultCacheWorkers,
		MaxQueueSize: DefaultCacheQueueSize,
		SaveTimeout:  DefaultCacheSaveTimeout,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by any TIMEVAULT_*
// environment variables that are set
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}
