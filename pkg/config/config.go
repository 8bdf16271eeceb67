// Package config loads the flash-sale server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   LoggerConfig   `yaml:"logger"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Seckill  SeckillConfig  `yaml:"seckill"`
}

type ServerConfig struct {
	Port              int      `yaml:"port"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the durable store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type CacheConfig struct {
	Strategy         string   `yaml:"strategy"` // pass_through, mutex, logical_expire
	Codec            string   `yaml:"codec"`    // json, msgpack, cbor
	ShopTTL          Duration `yaml:"shop_ttl"`
	NullTTL          Duration `yaml:"null_ttl"`
	LockTTL          Duration `yaml:"lock_ttl"`
	LockRetries      int      `yaml:"lock_retries"`
	LockBackoff      Duration `yaml:"lock_backoff"`
	RebuildWorkers   int      `yaml:"rebuild_workers"`
	RebuildQueueSize int      `yaml:"rebuild_queue_size"`
	WarmShops        []int64  `yaml:"warm_shops"`
}

type SeckillConfig struct {
	QueueCapacity  int      `yaml:"queue_capacity"`
	OrderLockTTL   Duration `yaml:"order_lock_ttl"`
	PersistTimeout Duration `yaml:"persist_timeout"`
}

// Duration is a time.Duration written as "10s", "30m" in YAML.
type Duration time.Duration

// UnmarshalYAML accepts a duration string or an integer number of nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: Duration(5 * time.Second),
			ShutdownTimeout:   Duration(30 * time.Second),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Pretty: false,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Strategy:         "mutex",
			Codec:            "json",
			ShopTTL:          Duration(30 * time.Minute),
			NullTTL:          Duration(2 * time.Minute),
			LockTTL:          Duration(10 * time.Second),
			LockRetries:      10,
			LockBackoff:      Duration(50 * time.Millisecond),
			RebuildWorkers:   10,
			RebuildQueueSize: 1024,
		},
		Seckill: SeckillConfig{
			QueueCapacity:  1 << 20,
			OrderLockTTL:   Duration(1200 * time.Second),
			PersistTimeout: Duration(5 * time.Second),
		},
	}
}

// Load reads path on top of Default and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Cache.Strategy = getEnv("CACHE_STRATEGY", c.Cache.Strategy)

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.Logger.Pretty = pretty
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	switch c.Cache.Strategy {
	case "pass_through", "mutex", "logical_expire":
	default:
		return fmt.Errorf("cache.strategy %q is not one of pass_through, mutex, logical_expire", c.Cache.Strategy)
	}
	if len(c.Cache.WarmShops) > 0 && c.Cache.Strategy != "logical_expire" {
		return fmt.Errorf("cache.warm_shops requires cache.strategy logical_expire, got %q", c.Cache.Strategy)
	}
	switch c.Cache.Codec {
	case "json", "msgpack", "cbor":
	default:
		return fmt.Errorf("cache.codec %q is not one of json, msgpack, cbor", c.Cache.Codec)
	}
	if c.Cache.ShopTTL <= 0 || c.Cache.NullTTL <= 0 || c.Cache.LockTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Seckill.QueueCapacity <= 0 {
		return fmt.Errorf("seckill.queue_capacity must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
