// Package config loads mouser settings from defaults, an optional config
// file and MOUSER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"mouser/internal/archive"
	"mouser/internal/catalog"
)

// EnvPrefix is prepended to every environment override, e.g. MOUSER_DATA_DIR.
const EnvPrefix = "MOUSER"

// Config is the root configuration.
type Config struct {
	DataDir string         `mapstructure:"data_dir" yaml:"data_dir"`
	Logger  LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Catalog catalog.Config `mapstructure:"catalog" yaml:"catalog"`
	Archive archive.Config `mapstructure:"archive" yaml:"archive"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig configures the console and rotating file log outputs.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the prometheus textfile written after each command.
type MetricsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mouser")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("catalog.driver", string(catalog.DriverSQLite))
	v.SetDefault("catalog.sqlite_path", "")
	v.SetDefault("catalog.postgres_dsn", "")

	v.SetDefault("archive.driver", string(archive.DriverNone))
	v.SetDefault("archive.fs_root", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.session_token", "")
	v.SetDefault("archive.s3.path_style", false)

	v.SetDefault("metrics.file", "")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "mouser-data"
	}
	return filepath.Join(home, ".mouser")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (when non-empty) on top of defaults and environment.
// Each bind hook runs before unmarshaling, e.g. to attach command line flags.
func Load(configFile string, binds ...func(*viper.Viper) error) (*Config, error) {
	v := NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	for _, bind := range binds {
		if err := bind(v); err != nil {
			return nil, err
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Catalog.SQLitePath == "" && cfg.DataDir != "" {
		cfg.Catalog.SQLitePath = filepath.Join(cfg.DataDir, "catalog.db")
	}
	cfg.Archive.Driver = archive.Driver(strings.ToLower(strings.TrimSpace(string(cfg.Archive.Driver))))
	if cfg.Archive.FSRoot == "" && cfg.DataDir != "" {
		cfg.Archive.FSRoot = filepath.Join(cfg.DataDir, "archive")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and known drivers.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	switch catalog.Driver(strings.ToLower(c.Catalog.Driver)) {
	case "", catalog.DriverMemory, catalog.DriverSQLite:
	case catalog.DriverPostgres:
		if c.Catalog.PostgresDSN == "" {
			return errors.New("catalog.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown catalog.driver %q", c.Catalog.Driver)
	}
	switch c.Archive.Driver {
	case "", archive.DriverNone, archive.DriverMemory, archive.DriverFilesystem:
	case archive.DriverS3:
		if c.Archive.S3.Bucket == "" {
			return errors.New("archive.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	switch strings.ToLower(c.Logger.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown logger.format %q", c.Logger.Format)
	}
	return nil
}
