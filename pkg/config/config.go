package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// VULNTREX_SERVER_LISTEN overrides server.listen.
	EnvPrefix = "VULNTREX"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultDataDir is the default directory holding run files.
	DefaultDataDir = "./data"

	// DefaultMaxUploadSize bounds multipart report uploads.
	DefaultMaxUploadSize = "256MB"

	// DefaultRequestsPerMinute is the default per-IP rate limit.
	DefaultRequestsPerMinute = 300

	// DefaultIndexingInterval is the default pause between indexing passes.
	DefaultIndexingInterval = "60s"

	// DefaultIndexingConcurrency bounds parallel run reads per pass.
	DefaultIndexingConcurrency = 4

	// DefaultPluginListTimeout bounds a scanner plugin listing.
	DefaultPluginListTimeout = "60s"

	// DefaultPresignExpiry is the validity of S3 download URLs.
	DefaultPresignExpiry = "1h"
)

// DefaultScannerCommand invokes the scanner through the Python module.
var DefaultScannerCommand = []string{"python", "-m", "garak"}

// Config is the root configuration for vulntrex.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Indexing IndexingConfig `yaml:"indexing" mapstructure:"indexing"`
	Scanner  ScannerConfig  `yaml:"scanner" mapstructure:"scanner"`
}

// Load reads the given YAML files in order, each merging over the
// previous one, then applies VULNTREX_* environment overrides and
// defaults. With no files only defaults and the environment apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		v.SetConfigFile(path)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every overridable key so that environment
// variables are honoured even when the key is absent from all files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.max_upload_size", DefaultMaxUploadSize)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("server.basic_auth.enabled", false)

	v.SetDefault("storage.local.enabled", true)
	v.SetDefault("storage.local.data_dir", DefaultDataDir)
	v.SetDefault("storage.local.owner", "")
	v.SetDefault("storage.s3.enabled", false)
	v.SetDefault("storage.s3.endpoint_url", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.presign_expiry", DefaultPresignExpiry)

	v.SetDefault("indexing.enabled", false)
	v.SetDefault("indexing.interval", DefaultIndexingInterval)
	v.SetDefault("indexing.concurrency", DefaultIndexingConcurrency)
	v.SetDefault("indexing.database.driver", DriverSQLite)
	v.SetDefault("indexing.database.sqlite.path", "")
	v.SetDefault("indexing.database.postgres.host", "")
	v.SetDefault("indexing.database.postgres.port", 5432)
	v.SetDefault("indexing.database.postgres.user", "")
	v.SetDefault("indexing.database.postgres.password", "")
	v.SetDefault("indexing.database.postgres.database", "")
	v.SetDefault("indexing.database.postgres.ssl_mode", "")

	v.SetDefault("scanner.enabled", false)
	v.SetDefault("scanner.command", DefaultScannerCommand)
	v.SetDefault("scanner.work_dir", "")
	v.SetDefault("scanner.output_dirs", []string{})
	v.SetDefault("scanner.logs_dir", "")
	v.SetDefault("scanner.configs_dir", "")
	v.SetDefault("scanner.registry_file", "")
	v.SetDefault("scanner.plugin_list_timeout", DefaultPluginListTimeout)
}

// applyDefaults fills values derived from other settings.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	dataDir := c.Storage.Local.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}

	if c.Indexing.Database.Driver == "" {
		c.Indexing.Database.Driver = DriverSQLite
	}

	if c.Indexing.Database.SQLite.Path == "" {
		c.Indexing.Database.SQLite.Path = filepath.Join(dataDir, "index.db")
	}

	if c.Indexing.Concurrency <= 0 {
		c.Indexing.Concurrency = DefaultIndexingConcurrency
	}

	if len(c.Scanner.Command) == 0 {
		c.Scanner.Command = DefaultScannerCommand
	}

	if c.Scanner.WorkDir == "" {
		c.Scanner.WorkDir = "."
	}

	if len(c.Scanner.OutputDirs) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			c.Scanner.OutputDirs = []string{
				filepath.Join(home, ".local", "share", "garak", "garak_runs"),
			}
		}
	}

	if c.Scanner.LogsDir == "" {
		c.Scanner.LogsDir = filepath.Join(dataDir, "logs")
	}

	if c.Scanner.ConfigsDir == "" {
		c.Scanner.ConfigsDir = filepath.Join(dataDir, "configs")
	}

	if c.Scanner.RegistryFile == "" {
		c.Scanner.RegistryFile = filepath.Join(dataDir, "active_runs.json")
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if c.Indexing.Enabled {
		if err := c.Indexing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("indexing: %w", err))
		}
	}

	if c.Scanner.Enabled {
		if err := c.Scanner.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scanner: %w", err))
		}
	}

	return errors.Join(errs...)
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, value)
	}

	return d, nil
}

func parseSize(name, value string, fallback int64) (int64, error) {
	if value == "" {
		return fallback, nil
	}

	n, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, value)
	}

	return n, nil
}
