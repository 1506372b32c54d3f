// Package config loads the optional nexusctl configuration file and
// applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the config directory.
const FileName = "config.yaml"

// Config holds user-tunable settings. Everything is optional; the
// zero value runs against the built-in OAuth client.
type Config struct {
	// ClientID and ClientSecret override the built-in OAuth client.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// ProjectID pins the Cloud Code project instead of resolving it
	// after login.
	ProjectID string `yaml:"project_id"`

	// History disables the local auth-event log when false.
	History *bool `yaml:"history"`
}

// Dir returns the per-OS nexusctl config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "nexusctl"), nil
}

// Load reads config.yaml from the config directory, then applies
// GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET overrides. A missing file
// yields the zero config.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, FileName))
}

// LoadFrom reads a config file at an explicit path.
func LoadFrom(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No file: defaults plus env.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	return &cfg, nil
}

// HistoryEnabled reports whether auth events should be recorded.
// Defaults to on.
func (c *Config) HistoryEnabled() bool {
	return c.History == nil || *c.History
}
