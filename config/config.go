// Package config loads engine settings from an optional file and EXT4FS_*
// environment variables.
//
// Precedence, highest first: environment, file, defaults. For example
// EXT4FS_CACHE_SIZE=64 overrides cache.size.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jnwhiteh/ext4fs/fs"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/metrics"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Registry RegistryConfig `mapstructure:"registry"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type CacheConfig struct {
	// items in the cache allocated for each mount
	Size int `mapstructure:"size" validate:"gte=8"`
}

type RegistryConfig struct {
	Devices int `mapstructure:"devices" validate:"gte=1,lte=64"`
	Mounts  int `mapstructure:"mounts" validate:"gte=1,lte=64"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("cache.size", fs.DefaultCacheSize)
	v.SetDefault("registry.devices", fs.DefaultDevices)
	v.SetDefault("registry.mounts", fs.DefaultMounts)
	v.SetDefault("metrics.enabled", false)
}

// Load reads the configuration. An empty path skips the file and uses
// defaults and environment only; the file format follows its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXT4FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// every key has a default, so AllSettings sees environment overrides
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Apply configures the logger and, when enabled, the metrics registry.
func (c *Config) Apply() {
	logger.SetLevel(c.Logging.Level)
	logger.SetFormat(c.Logging.Format)
	if c.Metrics.Enabled {
		metrics.InitRegistry()
	}
}

// Options converts the configuration into registry options. Apply must
// have been called for metrics to be attached.
func (c *Config) Options() fs.Options {
	opts := fs.Options{
		Devices:   c.Registry.Devices,
		Mounts:    c.Registry.Mounts,
		CacheSize: c.Cache.Size,
	}
	if c.Metrics.Enabled {
		if r := metrics.New(); r != nil {
			opts.Metrics = r
		}
	}
	return opts
}
