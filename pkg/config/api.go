package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DriverSQLite selects the embedded SQLite index database.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL index database.
	DriverPostgres = "postgres"
)

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen        string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins   []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit     RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	MaxUploadSize string          `yaml:"max_upload_size,omitempty" mapstructure:"max_upload_size"`
	BasicAuth     BasicAuthConfig `yaml:"basic_auth,omitempty" mapstructure:"basic_auth"`
}

// RateLimitConfig configures per-IP rate limiting of the API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// BasicAuthConfig protects the mutating endpoints (upload, scans) with
// HTTP basic authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser is one user allowed through basic auth. PasswordHash is
// a bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *ServerConfig) MaxUploadBytes() (int64, error) {
	return parseSize("max_upload_size", c.MaxUploadSize, 256<<20)
}

// Validate checks the server section.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}

	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate_limit.requests_per_minute must be positive")
	}

	if c.BasicAuth.Enabled {
		if len(c.BasicAuth.Users) == 0 {
			return errors.New("basic_auth requires at least one user")
		}

		for i, u := range c.BasicAuth.Users {
			if u.Username == "" {
				return fmt.Errorf("basic_auth.users[%d]: username is required", i)
			}

			if !strings.HasPrefix(u.PasswordHash, "$2") {
				return fmt.Errorf("basic_auth.users[%d]: password_hash must be a bcrypt hash", i)
			}
		}
	}

	return nil
}

// StorageConfig selects where run files live. When S3 is enabled it
// takes precedence over the local directory.
type StorageConfig struct {
	Local LocalStorageConfig `yaml:"local" mapstructure:"local"`
	S3    S3StorageConfig    `yaml:"s3" mapstructure:"s3"`
}

// LocalStorageConfig keeps run files under {data_dir}/runs/{run_id}/.
// Owner optionally chowns written files, formatted "UID:GID".
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
	Owner   string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3StorageConfig keeps run files under {prefix}/runs/{run_id}/ in an
// S3-compatible bucket.
type S3StorageConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	// PresignExpiry is the validity of raw file download URLs.
	PresignExpiry string `yaml:"presign_expiry,omitempty" mapstructure:"presign_expiry"`
}

// PresignExpiryDuration returns the validity of presigned URLs.
func (c *S3StorageConfig) PresignExpiryDuration() (time.Duration, error) {
	return parseDuration("s3.presign_expiry", c.PresignExpiry, time.Hour)
}

// Validate checks the storage section.
func (c *StorageConfig) Validate() error {
	switch {
	case c.S3.Enabled:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required")
		}

		if _, err := c.S3.PresignExpiryDuration(); err != nil {
			return err
		}
	case c.Local.Enabled:
		if c.Local.DataDir == "" {
			return errors.New("local.data_dir is required")
		}
	default:
		return errors.New("a storage backend (local or s3) must be enabled")
	}

	return nil
}

// IndexingConfig configures the background indexer that keeps a
// queryable summary of every stored run in a database.
type IndexingConfig struct {
	Enabled     bool           `yaml:"enabled" mapstructure:"enabled"`
	Interval    string         `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int            `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	Database    DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// IntervalDuration returns the pause between indexing passes.
func (c *IndexingConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("interval", c.Interval, 60*time.Second)
}

// Validate checks the indexing section.
func (c *IndexingConfig) Validate() error {
	if _, err := c.IntervalDuration(); err != nil {
		return err
	}

	return c.Database.Validate()
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Validate checks the database settings.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return errors.New("database.postgres.host and database.postgres.database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	return nil
}
