// Package config provides configuration loading and structs for the crmrecall server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/crmrecall/internal/shard"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Search      SearchConfig      `yaml:"search"`
	Watch       WatchConfig       `yaml:"watch"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the shard root, retention window, and journal path.
type StorageConfig struct {
	Root         string `yaml:"root"`
	MaxDays      int    `yaml:"max_days"`
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds embedder settings. An empty or unloadable model path falls back
// to deterministic mock embeddings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds result limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// MaintenanceConfig schedules the periodic flush and retention pass.
type MaintenanceConfig struct {
	Enabled           *bool  `yaml:"enabled"`
	FlushSchedule     string `yaml:"flush_schedule"`
	RetentionSchedule string `yaml:"retention_schedule"`
}

// EnabledOrDefault returns whether scheduled maintenance runs; defaults to true when unset.
func (m *MaintenanceConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Environment variables that override file settings.
const (
	EnvStorageDir = "CRMRECALL_STORAGE_DIR"
	EnvMaxDays    = "CRMRECALL_MAX_DAYS"
	EnvDimensions = "CRMRECALL_EMBEDDING_DIMENSIONS"
	EnvDebug      = "CRMRECALL_DEBUG"
)

// Load reads and parses the config file at path, expands paths, and applies defaults and
// environment overrides. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and otherwise returns defaults with environment
// overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// ApplyEnv overrides storage root, retention, dimension, and debug from the environment.
// lookup is os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvStorageDir); ok && v != "" {
		cfg.Storage.Root = v
	}
	if v, ok := lookup(EnvMaxDays); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &shard.ConfigurationError{Field: EnvMaxDays, Reason: fmt.Sprintf("is not an integer: %q", v)}
		}
		cfg.Storage.MaxDays = n
	}
	if v, ok := lookup(EnvDimensions); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &shard.ConfigurationError{Field: EnvDimensions, Reason: fmt.Sprintf("is not an integer: %q", v)}
		}
		cfg.Embedding.Dimensions = n
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &shard.ConfigurationError{Field: EnvDebug, Reason: fmt.Sprintf("is not a boolean: %q", v)}
		}
		cfg.Debug = b
	}
	return nil
}

// Validate rejects settings the index cannot start with.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return &shard.ConfigurationError{Field: "storage.root", Reason: "must not be empty"}
	}
	if c.Storage.MaxDays <= 0 {
		return &shard.ConfigurationError{Field: "storage.max_days", Reason: fmt.Sprintf("must be positive, got %d", c.Storage.MaxDays)}
	}
	if c.Embedding.Dimensions <= 0 {
		return &shard.ConfigurationError{Field: "embedding.dimensions", Reason: fmt.Sprintf("must be positive, got %d", c.Embedding.Dimensions)}
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return &shard.ConfigurationError{Field: "search.max_limit", Reason: "must be at least search.default_limit"}
	}
	return nil
}

// Save writes the config to path, creating its directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
