// Package config loads the viewcache configuration.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file (--config, VIEWCACHE_CONFIG or a default path)
//  3. VIEWCACHE_* environment variables, with "__" separating sections:
//     VIEWCACHE_CACHE__MAX_ENTRIES=500 sets cache.max_entries
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/postgis"
)

const (
	// EnvPrefix prefixes every configuration environment variable
	EnvPrefix = "VIEWCACHE_"
	// ConfigPathEnvVar names the config file when --config is not given
	ConfigPathEnvVar = "VIEWCACHE_CONFIG"
)

// DefaultConfigPaths are searched when no path is given
var DefaultConfigPaths = []string{
	"viewcache.yaml",
	"config/viewcache.yaml",
	"/etc/viewcache/config.yaml",
}

// Dataset sources
const (
	SourceGenerate = "generate"
	SourceFile     = "file"
	SourceRTree    = "rtree"
	SourcePostGIS  = "postgis"
)

// Store kinds
const (
	StoreNone   = "none"
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Config is the complete application configuration
type Config struct {
	Log     logging.Config `koanf:"log"`
	Server  ServerConfig   `koanf:"server"`
	Cache   CacheConfig    `koanf:"cache"`
	Dataset DatasetConfig  `koanf:"dataset"`
	PostGIS postgis.Config `koanf:"postgis"`
	Store   StoreConfig    `koanf:"store"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
	// RateLimit is API requests per client IP per RateWindow; 0 disables it
	RateLimit   int           `koanf:"rate_limit" validate:"min=0"`
	RateWindow  time.Duration `koanf:"rate_window" validate:"min=0"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// CacheConfig configures the viewport cache
type CacheConfig struct {
	Name            string        `koanf:"name" validate:"required"`
	MaxEntries      int           `koanf:"max_entries" validate:"min=0"`
	ProviderTimeout time.Duration `koanf:"provider_timeout" validate:"min=0"`
	// DefaultMax applies when a request has no max parameter
	DefaultMax int `koanf:"default_max" validate:"min=0"`
}

// DatasetConfig selects the record provider
type DatasetConfig struct {
	Source string `koanf:"source" validate:"oneof=generate file rtree postgis"`
	Path   string `koanf:"path"`
	Size   int    `koanf:"size" validate:"min=0"`
	Seed   int64  `koanf:"seed"`
	// Breaker guards the provider against repeated failures
	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the provider circuit breaker
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"required_if=Enabled true"`
	Timeout          time.Duration `koanf:"timeout" validate:"min=0"`
}

// StoreConfig selects where cache snapshots are kept
type StoreConfig struct {
	Kind          string `koanf:"kind" validate:"oneof=none file badger redis"`
	Path          string `koanf:"path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`
	RedisKey      string `koanf:"redis_key"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       600,
			RateWindow:      time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Cache: CacheConfig{
			Name:            "default",
			MaxEntries:      1000,
			ProviderTimeout: 10 * time.Second,
			DefaultMax:      100,
		},
		Dataset: DatasetConfig{
			Source: SourceGenerate,
			Size:   100000,
			Seed:   42,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		PostGIS: postgis.Config{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "geodb",
			SSLMode: "disable",
		},
		Store: StoreConfig{
			Kind:     StoreNone,
			RedisKey: "viewcache:entries",
		},
	}
}

// Load reads the configuration. An empty path falls back to
// VIEWCACHE_CONFIG and then DefaultConfigPaths; a missing file there is not
// an error, a missing explicit path is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps VIEWCACHE_CACHE__MAX_ENTRIES to cache.max_entries
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints and the settings each source needs
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	switch c.Dataset.Source {
	case SourceFile, SourceRTree:
		if c.Dataset.Path == "" {
			errs = append(errs, fmt.Errorf("dataset.path is required for source %q", c.Dataset.Source))
		}
	case SourcePostGIS:
		if c.PostGIS.Host == "" {
			errs = append(errs, errors.New("postgis.host is required for source postgis"))
		}
	}

	switch c.Store.Kind {
	case StoreFile, StoreBadger:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for store %q", c.Store.Kind))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for store redis"))
		}
	}

	return errors.Join(errs...)
}
