package redisstore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr     string `env:"TIMEVAULT_REDIS_ADDR"`
	Password string `env:"TIMEVAULT_REDIS_PASSWORD"`
	Prefix   string `env:"TIMEVAULT_REDIS_PREFIX"`
	DB       int    `env:"TIMEVAULT_REDIS_DB"`
}

const (
	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "timevault"
	DefaultRedisDB       = 0

	RedisConnectTimeout = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		Addr:   DefaultRedisEndpoint,
		Prefix: DefaultRedisPrefix,
		DB:     DefaultRedisDB,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by TIMEVAULT_REDIS_*
// environment variables
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
