package config

import (
	"errors"
	"time"
)

// ScannerConfig configures launching the external scanner. The command
// is fixed here; scan requests only choose its arguments.
type ScannerConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Command is the argv prefix used to invoke the scanner.
	Command []string `yaml:"command,omitempty" mapstructure:"command"`
	// WorkDir is the scanner's working directory, searched first for
	// report files.
	WorkDir string `yaml:"work_dir,omitempty" mapstructure:"work_dir"`
	// OutputDirs are searched after WorkDir for report files.
	OutputDirs        []string `yaml:"output_dirs,omitempty" mapstructure:"output_dirs"`
	LogsDir           string   `yaml:"logs_dir,omitempty" mapstructure:"logs_dir"`
	ConfigsDir        string   `yaml:"configs_dir,omitempty" mapstructure:"configs_dir"`
	RegistryFile      string   `yaml:"registry_file,omitempty" mapstructure:"registry_file"`
	PluginListTimeout string   `yaml:"plugin_list_timeout,omitempty" mapstructure:"plugin_list_timeout"`
}

// PluginListTimeoutDuration returns the plugin listing timeout.
func (c *ScannerConfig) PluginListTimeoutDuration() (time.Duration, error) {
	return parseDuration("plugin_list_timeout", c.PluginListTimeout, 60*time.Second)
}

// Validate checks the scanner section.
func (c *ScannerConfig) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.New("command is required")
	}

	if c.LogsDir == "" || c.ConfigsDir == "" || c.RegistryFile == "" {
		return errors.New("logs_dir, configs_dir and registry_file are required")
	}

	if _, err := c.PluginListTimeoutDuration(); err != nil {
		return err
	}

	return nil
}
