// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine configuration from a YAML file with
// environment variable overrides. Secrets (master key, JWT secret, OAuth
// client credentials) are sourced from the environment only and never
// appear in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avenueworks/avenue/internal/connector"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete engine configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Database   DatabaseConfig          `yaml:"database"`
	Auth       AuthConfig              `yaml:"auth"`
	Limiter    LimiterConfig           `yaml:"limiter"`
	Sweep      SweepConfig             `yaml:"sweep"`
	Log        LogConfig               `yaml:"log"`
	Connectors []*connector.Definition `yaml:"connectors"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address the API listens on.
	// Environment: AVENUE_LISTEN_ADDR
	// Default: :8080
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// DatabaseConfig configures the SQLite backend.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	// Environment: AVENUE_DB_PATH
	// Default: avenue.db
	Path string `yaml:"path,omitempty"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// JWTSecret signs and verifies API bearer tokens (HS256).
	// Environment: AVENUE_JWT_SECRET. Required for serve; not
	// accepted from the YAML file.
	JWTSecret string `yaml:"-"`
}

// LimiterConfig configures the in-memory burst limiter.
type LimiterConfig struct {
	// BurstLimit is requests allowed per user per window.
	// Default: 10
	BurstLimit int `yaml:"burst_limit,omitempty"`

	// BurstWindow is the limiter window length.
	// Default: 60s
	BurstWindow time.Duration `yaml:"burst_window,omitempty"`
}

// SweepConfig configures the stale-execution sweeper.
type SweepConfig struct {
	// Interval is how often stuck executing entries are reclaimed.
	// Default: 1m
	Interval time.Duration `yaml:"interval,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Environment: LOG_LEVEL
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	// Environment: LOG_FORMAT
	Format string `yaml:"format,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "avenue.db",
		},
		Limiter: LimiterConfig{
			BurstLimit:  10,
			BurstWindow: 60 * time.Second,
		},
		Sweep: SweepConfig{
			Interval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file, applies defaults,
// and overrides from the environment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyDefaults fills zero values so minimal configs work.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Limiter.BurstLimit <= 0 {
		c.Limiter.BurstLimit = def.Limiter.BurstLimit
	}
	if c.Limiter.BurstWindow <= 0 {
		c.Limiter.BurstWindow = def.Limiter.BurstWindow
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = def.Sweep.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("AVENUE_LISTEN_ADDR"); val != "" {
		c.Server.ListenAddr = val
	}
	if val := os.Getenv("AVENUE_DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("AVENUE_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}
	if val := os.Getenv("AVENUE_BURST_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Limiter.BurstLimit = n
		}
	}
	if val := os.Getenv("AVENUE_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.Sweep.Interval = d
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, def := range c.Connectors {
		if def.Provider == "" {
			return fmt.Errorf("%w: connector %d has no provider key", ErrInvalidConfig, i)
		}
		if seen[def.Provider] {
			return fmt.Errorf("%w: duplicate connector provider %q", ErrInvalidConfig, def.Provider)
		}
		seen[def.Provider] = true

		if def.BaseURL == "" {
			return fmt.Errorf("%w: connector %q has no base_url", ErrInvalidConfig, def.Provider)
		}
		if def.RateLimitPerHour < 0 {
			return fmt.Errorf("%w: connector %q has a negative rate limit", ErrInvalidConfig, def.Provider)
		}
		if def.UsesOAuth {
			if def.OAuth == nil || def.OAuth.TokenURL == "" {
				return fmt.Errorf("%w: connector %q uses oauth but has no token_url", ErrInvalidConfig, def.Provider)
			}
			if def.OAuth.ClientIDEnv == "" || def.OAuth.ClientSecretEnv == "" {
				return fmt.Errorf("%w: connector %q oauth must name client id and secret env vars", ErrInvalidConfig, def.Provider)
			}
		}
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}

	return nil
}
