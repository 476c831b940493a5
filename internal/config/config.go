package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultDaemonURL      = "http://localhost:9384"
	DefaultPollInterval   = 5 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
)

// Config represents the global ~/.pchat/config.toml.
type Config struct {
	DefaultSession  string `toml:"default_session"`
	DaemonURL       string `toml:"daemon_url"`
	PollIntervalS   int    `toml:"poll_interval_seconds"`
	ConnectTimeoutS int    `toml:"connect_timeout_seconds"`
	ReceiveTimeoutS int    `toml:"receive_timeout_seconds"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DaemonBaseURL returns the configured daemon URL or the default.
func (c *Config) DaemonBaseURL() string {
	if c != nil && c.DaemonURL != "" {
		return c.DaemonURL
	}
	return DefaultDaemonURL
}

// PollInterval returns the configured poll period or the default.
func (c *Config) PollInterval() time.Duration {
	if c != nil && c.PollIntervalS > 0 {
		return time.Duration(c.PollIntervalS) * time.Second
	}
	return DefaultPollInterval
}

// ConnectTimeout returns the configured connect timeout or the default.
func (c *Config) ConnectTimeout() time.Duration {
	if c != nil && c.ConnectTimeoutS > 0 {
		return time.Duration(c.ConnectTimeoutS) * time.Second
	}
	return DefaultConnectTimeout
}

// ReceiveTimeout returns the configured receive timeout or the default.
func (c *Config) ReceiveTimeout() time.Duration {
	if c != nil && c.ReceiveTimeoutS > 0 {
		return time.Duration(c.ReceiveTimeoutS) * time.Second
	}
	return DefaultReceiveTimeout
}
