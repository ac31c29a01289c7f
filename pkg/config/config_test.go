package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
log_level: info
server:
  listen: ":9000"
  cors_origins: ["http://localhost:3000"]
  rate_limit:
    enabled: false
    requests_per_minute: 60
storage:
  local:
    enabled: true
    data_dir: ./original-data
indexing:
  enabled: false
  interval: 5m
scanner:
  enabled: false
  command: ["garak"]
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, ":9000", cfg.Server.Listen)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
				assert.Equal(t, "./original-data", cfg.Storage.Local.DataDir)
				assert.Equal(t, []string{"garak"}, cfg.Scanner.Command)
			},
		},
		{
			name:    "string override - log_level",
			envVars: map[string]string{"VULNTREX_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name:    "nested string override - server.listen",
			envVars: map[string]string{"VULNTREX_SERVER_LISTEN": "127.0.0.1:8081"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:8081", cfg.Server.Listen)
			},
		},
		{
			name:    "boolean override - rate_limit.enabled",
			envVars: map[string]string{"VULNTREX_SERVER_RATE_LIMIT_ENABLED": "true"},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.RateLimit.Enabled)
			},
		},
		{
			name:    "int override - requests_per_minute",
			envVars: map[string]string{"VULNTREX_SERVER_RATE_LIMIT_REQUESTS_PER_MINUTE": "10"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10, cfg.Server.RateLimit.RequestsPerMinute)
			},
		},
		{
			name:    "key absent from file - s3 bucket",
			envVars: map[string]string{"VULNTREX_STORAGE_S3_BUCKET": "runs-bucket"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "runs-bucket", cfg.Storage.S3.Bucket)
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"VULNTREX_LOG_LEVEL":              "trace",
				"VULNTREX_STORAGE_LOCAL_DATA_DIR": "/srv/vulntrex",
				"VULNTREX_INDEXING_ENABLED":       "true",
				"VULNTREX_INDEXING_INTERVAL":      "30s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "trace", cfg.LogLevel)
				assert.Equal(t, "/srv/vulntrex", cfg.Storage.Local.DataDir)
				assert.True(t, cfg.Indexing.Enabled)
				assert.Equal(t, "30s", cfg.Indexing.Interval)
				assert.Equal(t, filepath.Join("/srv/vulntrex", "index.db"), cfg.Indexing.Database.SQLite.Path)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultMaxUploadSize, cfg.Server.MaxUploadSize)
	assert.True(t, cfg.Storage.Local.Enabled)
	assert.Equal(t, DefaultDataDir, cfg.Storage.Local.DataDir)
	assert.False(t, cfg.Storage.S3.Enabled)
	assert.Equal(t, DriverSQLite, cfg.Indexing.Database.Driver)
	assert.Equal(t, filepath.Join(DefaultDataDir, "index.db"), cfg.Indexing.Database.SQLite.Path)
	assert.Equal(t, DefaultIndexingConcurrency, cfg.Indexing.Concurrency)
	assert.Equal(t, DefaultScannerCommand, cfg.Scanner.Command)
	assert.Equal(t, filepath.Join(DefaultDataDir, "logs"), cfg.Scanner.LogsDir)
	assert.Equal(t, filepath.Join(DefaultDataDir, "active_runs.json"), cfg.Scanner.RegistryFile)

	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles(t *testing.T) {
	t.Setenv("VULNTREX_SERVER_LISTEN", ":7000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	base := writeConfig(t, `
log_level: info
server:
  listen: ":9000"
storage:
  local:
    data_dir: /base
`)
	override := writeConfig(t, `
server:
  listen: ":9100"
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Listen)
	assert.Equal(t, "/base", cfg.Storage.Local.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:      "no storage backend",
			mutate:    func(c *Config) { c.Storage.Local.Enabled = false },
			errSubstr: "storage backend",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Storage.S3.Enabled = true
			},
			errSubstr: "s3.bucket is required",
		},
		{
			name: "s3 takes precedence over local",
			mutate: func(c *Config) {
				c.Storage.S3.Enabled = true
				c.Storage.S3.Bucket = "b"
				c.Storage.Local.DataDir = ""
			},
		},
		{
			name:      "bad upload size",
			mutate:    func(c *Config) { c.Server.MaxUploadSize = "lots" },
			errSubstr: "max_upload_size",
		},
		{
			name: "rate limit without budget",
			mutate: func(c *Config) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.RequestsPerMinute = 0
			},
			errSubstr: "requests_per_minute",
		},
		{
			name: "basic auth with plaintext password",
			mutate: func(c *Config) {
				c.Server.BasicAuth.Enabled = true
				c.Server.BasicAuth.Users = []BasicAuthUser{{Username: "admin", PasswordHash: "hunter2"}}
			},
			errSubstr: "bcrypt",
		},
		{
			name: "basic auth without users",
			mutate: func(c *Config) {
				c.Server.BasicAuth.Enabled = true
			},
			errSubstr: "at least one user",
		},
		{
			name: "indexing with bad interval",
			mutate: func(c *Config) {
				c.Indexing.Enabled = true
				c.Indexing.Interval = "soon"
			},
			errSubstr: "interval",
		},
		{
			name: "indexing with unknown driver",
			mutate: func(c *Config) {
				c.Indexing.Enabled = true
				c.Indexing.Database.Driver = "mysql"
			},
			errSubstr: "unsupported database driver",
		},
		{
			name: "indexing with incomplete postgres",
			mutate: func(c *Config) {
				c.Indexing.Enabled = true
				c.Indexing.Database.Driver = DriverPostgres
			},
			errSubstr: "postgres",
		},
		{
			name: "disabled indexing is not validated",
			mutate: func(c *Config) {
				c.Indexing.Database.Driver = "mysql"
			},
		},
		{
			name: "scanner without command",
			mutate: func(c *Config) {
				c.Scanner.Enabled = true
				c.Scanner.Command = nil
			},
			errSubstr: "command is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errSubstr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestServerConfig_MaxUploadBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: "", want: 256 << 20},
		{in: "64MB", want: 64 << 20},
		{in: "1g", want: 1 << 30},
		{in: "512k", want: 512 << 10},
	}

	for _, tt := range tests {
		c := ServerConfig{MaxUploadSize: tt.in}

		got, err := c.MaxUploadBytes()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
