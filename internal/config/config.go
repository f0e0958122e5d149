// Copyright (c) 2024-2025 Baboonchat Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for baboonchat.
//
// Configuration is read from ~/.baboonchat/config.toml when present, with
// environment variable overrides and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete baboonchat configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Storage StorageConfig `toml:"storage"`
	Search  SearchConfig  `toml:"search"`
}

// BackendConfig describes the AI backend endpoint.
type BackendConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string `toml:"base_url"`
	// TimeoutSecs bounds a single request.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries is the attempt budget for transient failures.
	MaxRetries int `toml:"max_retries"`
	// RatePerSecond throttles outbound requests.
	RatePerSecond float64 `toml:"rate_per_second"`
}

// Timeout returns the request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// StorageConfig describes where history lives on disk.
type StorageConfig struct {
	// DataDir holds the store file, backups and exports.
	// Empty means ~/.baboonchat.
	DataDir string `toml:"data_dir"`
	// BackupEveryMessages triggers an automatic backup each time this many
	// messages have been added. Zero disables automatic backups.
	BackupEveryMessages int `toml:"backup_every_messages"`
	// WatchStoreFile reloads history when the store file changes on disk.
	WatchStoreFile bool `toml:"watch_store_file"`
}

// SearchConfig describes the full-text index.
type SearchConfig struct {
	// Enabled controls whether the SQLite index is maintained at all.
	Enabled bool `toml:"enabled"`
	// DatabasePath overrides the index location. Empty means
	// <data_dir>/search.db.
	DatabasePath string `toml:"database_path"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			TimeoutSecs:   60,
			MaxRetries:    3,
			RatePerSecond: 2,
		},
		Storage: StorageConfig{
			BackupEveryMessages: 10,
			WatchStoreFile:      true,
		},
		Search: SearchConfig{
			Enabled: true,
		},
	}
}

// Dir returns the baboonchat home directory (~/.baboonchat).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".baboonchat"), nil
}

// Path returns the config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file if present, applies environment overrides and
// validates. A missing file yields defaults, not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file location, used by tests and
// the --config flag.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BABOONCHAT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("BABOONCHAT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("BABOONCHAT_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backend.TimeoutSecs = n
		}
	}
}

// setDefaults fills derived values left empty by the file.
func (c *Config) setDefaults() {
	if c.Storage.DataDir == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DataDir = dir
		}
	}
	if c.Search.DatabasePath == "" && c.Storage.DataDir != "" {
		c.Search.DatabasePath = filepath.Join(c.Storage.DataDir, "search.db")
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	errBadBackendURL = errors.New("backend.base_url must be an http(s) URL")
	errBadTimeout    = errors.New("backend.timeout_secs must be positive")
	errBadRetries    = errors.New("backend.max_retries must be at least 1")
	errBadRate       = errors.New("backend.rate_per_second must be positive")
	errBadBackupN    = errors.New("storage.backup_every_messages must not be negative")
)

// Validate checks ranges and formats. An empty backend URL is allowed; the
// client then fails at call time, which keeps offline history browsing
// usable.
func (c *Config) Validate() error {
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errBadBackendURL
		}
	}
	if c.Backend.TimeoutSecs <= 0 {
		return errBadTimeout
	}
	if c.Backend.MaxRetries < 1 {
		return errBadRetries
	}
	if c.Backend.RatePerSecond <= 0 {
		return errBadRate
	}
	if c.Storage.BackupEveryMessages < 0 {
		return errBadBackupN
	}
	return nil
}
