package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/joblog/joblog"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Blobs   BlobConfig    `mapstructure:"blobs"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig locates the record store.
type StorageConfig struct {
	// Target is "local", "file:<path>", "libsql://...", "http(s)://...", "postgres://..." or "mem://".
	Target      string `mapstructure:"target"`
	Database    string `mapstructure:"database"`
	Collection  string `mapstructure:"collection"`
	AuthToken   string `mapstructure:"auth_token"`   // remote libSQL only
	LocalDriver string `mapstructure:"local_driver"` // "sqlite" (modernc) or "libsql"
	DataDir     string `mapstructure:"data_dir"`     // directory for local database files

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig controls the in-process record cache placed in front of the store.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// BlobConfig controls offloading of large full-result payloads out of the record.
type BlobConfig struct {
	Backend        string `mapstructure:"backend"` // "none", "memory", "s3"
	ThresholdBytes int    `mapstructure:"threshold_bytes"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Profile        string `mapstructure:"profile"`
	Endpoint       string `mapstructure:"endpoint"` // S3-compatible endpoint, e.g. MinIO
}

// TracingConfig toggles job lifecycle tracing through the logger.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig configures the zerolog root logger built by the CLI.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// LoadConfig reads configuration from file or environment variables.
// Each call uses its own viper instance, so loads never leak into each other.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// storage.collection becomes JOBLOG_STORAGE_COLLECTION
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file on the search path; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.target", internal.DefaultTarget)
	v.SetDefault("storage.database", internal.DefaultDatabase)
	v.SetDefault("storage.collection", internal.DefaultCollection)
	v.SetDefault("storage.auth_token", "")
	v.SetDefault("storage.local_driver", internal.DefaultLocalDriver)
	v.SetDefault("storage.data_dir", internal.DefaultDataDir)
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 4)
	v.SetDefault("storage.conn_max_idle_time", "5m")
	v.SetDefault("storage.conn_max_lifetime", "1h")

	// Record cache is off by default: another process may overwrite a record at any time.
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.ttl", "1m")

	// Blob offload
	v.SetDefault("blobs.backend", "none")
	v.SetDefault("blobs.threshold_bytes", 8<<20) // 8MB
	v.SetDefault("blobs.bucket", "")
	v.SetDefault("blobs.prefix", internal.DefaultAppName)
	v.SetDefault("blobs.region", "")
	v.SetDefault("blobs.profile", "")
	v.SetDefault("blobs.endpoint", "")

	v.SetDefault("tracing.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Storage.Database == "" {
		return fmt.Errorf("storage.database must not be empty")
	}
	if c.Storage.Collection == "" {
		return fmt.Errorf("storage.collection must not be empty")
	}
	switch c.Storage.LocalDriver {
	case "sqlite", "libsql":
	default:
		return fmt.Errorf("storage.local_driver must be sqlite or libsql: %q", c.Storage.LocalDriver)
	}

	if c.Cache.Enabled && c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive when the cache is enabled: %d", c.Cache.Capacity)
	}

	switch c.Blobs.Backend {
	case "", "none", "memory":
	case "s3":
		if c.Blobs.Bucket == "" {
			return fmt.Errorf("blobs.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("blobs.backend must be none, memory or s3: %q", c.Blobs.Backend)
	}
	if c.Blobs.ThresholdBytes < 0 {
		return fmt.Errorf("blobs.threshold_bytes must not be negative: %d", c.Blobs.ThresholdBytes)
	}

	return nil
}
