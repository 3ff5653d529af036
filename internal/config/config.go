// Package config loads engine configuration from YAML with documented
// defaults. Configuration cannot change the category set or weights;
// those are fixed in the types package.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/compwatch/compwatch/internal/types"
)

// DefaultFileName is the config file looked up in the workspace root.
const DefaultFileName = "compwatch.yaml"

// Config is the full engine configuration.
type Config struct {
	// Session holds the monitoring options
	Session types.SessionConfig `yaml:"session"`
	// DatabasePath is the sqlite file location
	DatabasePath string `yaml:"database_path"`
	// SocketPath is the control socket location
	SocketPath string `yaml:"socket_path"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// RequiredDirs are directories the workspace layout must contain
	RequiredDirs []string `yaml:"required_dirs"`
	// SensitiveFiles are paths whose permissions the security check audits
	SensitiveFiles []string `yaml:"sensitive_files"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Session:      types.DefaultSessionConfig(),
		DatabasePath: filepath.Join(".compwatch", "compwatch.db"),
		SocketPath:   filepath.Join(".compwatch", "control.sock"),
		LogLevel:     "info",
	}
}

// Load reads configuration from path. A missing file is not an error;
// the defaults apply. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	return nil
}
