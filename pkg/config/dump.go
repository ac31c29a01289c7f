package config

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

const redacted = "REDACTED"

// Redacted returns a copy of c with credentials replaced.
func (c *Config) Redacted() *Config {
	out := *c

	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Server.BasicAuth.Users = slices.Clone(c.Server.BasicAuth.Users)

	for i := range out.Server.BasicAuth.Users {
		out.Server.BasicAuth.Users[i].PasswordHash = redactValue(out.Server.BasicAuth.Users[i].PasswordHash)
	}

	out.Storage.S3.AccessKeyID = redactValue(c.Storage.S3.AccessKeyID)
	out.Storage.S3.SecretAccessKey = redactValue(c.Storage.S3.SecretAccessKey)
	out.Indexing.Database.Postgres.Password = redactValue(c.Indexing.Database.Postgres.Password)

	return &out
}

func redactValue(v string) string {
	if v == "" {
		return ""
	}

	return redacted
}

// YAML renders the effective configuration with credentials redacted.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	return data, nil
}
