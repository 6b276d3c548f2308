// Package config loads tensor-cache settings from a file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wolfeidau/tensor-cache/store"
)

// EnvPrefix prefixes every environment override, e.g. TENSORCACHE_CACHE_BASE_PATH.
const EnvPrefix = "TENSORCACHE"

// Config is the full application configuration.
type Config struct {
	Cache   store.Config  `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Credentials is an optional path to a credentials template. Values it
	// renders override the s3 and minio secrets in Cache.
	Credentials string `mapstructure:"credentials"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Listen serves Prometheus metrics on this address when set.
	Listen        string        `mapstructure:"listen"`
	OTLPEndpoint  string        `mapstructure:"otlp_endpoint"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Cache: store.Config{
			BasePath:    "./tensor-cache",
			Compression: "none",
			Concurrency: store.DefaultConcurrency,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			FlushInterval: 10 * time.Second,
		},
	}
}

// Load reads configuration from path, which may be empty, and applies
// TENSORCACHE_* environment overrides. String values of the form ${VAR}
// are expanded from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply
// even when the file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("cache.base_path", d.Cache.BasePath)
	v.SetDefault("cache.chunk_bytes", d.Cache.ChunkBytes)
	v.SetDefault("cache.compression", string(d.Cache.Compression))
	v.SetDefault("cache.concurrency", d.Cache.Concurrency)
	v.SetDefault("cache.reject_unsafe_keys", d.Cache.RejectUnsafeKeys)
	v.SetDefault("cache.coalesce_reads", d.Cache.CoalesceReads)

	v.SetDefault("cache.s3.region", "")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("cache.s3.access_key_id", "")
	v.SetDefault("cache.s3.secret_access_key", "")
	v.SetDefault("cache.s3.session_token", "")
	v.SetDefault("cache.s3.use_path_style", false)
	v.SetDefault("cache.s3.multipart_threshold", 0)

	v.SetDefault("cache.minio.endpoint", "")
	v.SetDefault("cache.minio.access_key_id", "")
	v.SetDefault("cache.minio.secret_access_key", "")
	v.SetDefault("cache.minio.session_token", "")
	v.SetDefault("cache.minio.region", "")
	v.SetDefault("cache.minio.secure", false)
	v.SetDefault("cache.minio.create_bucket", false)

	v.SetDefault("cache.bolt.no_sync", false)
	v.SetDefault("cache.rate_limit.requests_per_second", 0.0)
	v.SetDefault("cache.rate_limit.burst", 0)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.otlp_endpoint", d.Metrics.OTLPEndpoint)
	v.SetDefault("metrics.flush_interval", d.Metrics.FlushInterval)

	v.SetDefault("credentials", d.Credentials)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.Metrics.FlushInterval < 0 {
		return fmt.Errorf("metrics flush_interval cannot be negative, got %s", c.Metrics.FlushInterval)
	}
	return c.Cache.Validate()
}
