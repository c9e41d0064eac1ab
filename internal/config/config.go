// Package config loads the YAML settings file and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the data directory under the user's home
	DirName = ".apitester"
	// FileName is the config file inside DirName
	FileName = "config.yaml"

	// Secure permissions for the data directory and files inside it
	SecureDirMode  = 0700
	SecureFileMode = 0600

	EnvBaseURL   = "API_BASE_URL"
	EnvUser      = "APITESTER_USER"
	EnvStorePath = "APITESTER_STORE_PATH"
)

// Config is the full settings tree
type Config struct {
	Proxy     ProxyConfig     `yaml:"proxy"`
	Store     StoreConfig     `yaml:"store"`
	Tombstone TombstoneConfig `yaml:"tombstone"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`

	// User is the identity handed over by the external identity provider.
	// It only comes from the environment.
	User string `yaml:"-"`
}

// ProxyConfig controls the request dispatcher
type ProxyConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, memory
	Path   string `yaml:"path"`
}

// TombstoneConfig selects where deleted history ids are remembered
type TombstoneConfig struct {
	Driver string      `yaml:"driver"` // file, redis
	Path   string      `yaml:"path"`
	Key    string      `yaml:"key"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig is used by the redis tombstone driver
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HistoryConfig tunes history paging
type HistoryConfig struct {
	PageSize int `yaml:"page_size"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stderr, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// ServerConfig configures the browser-facing JSON API
type ServerConfig struct {
	Address        string `yaml:"address"`
	IdentityHeader string `yaml:"identity_header"`
	EnableCORS     bool   `yaml:"enable_cors"`
	// MaxWorkspaces caps the per-caller workspaces kept in memory; the least
	// recently used one is closed when the cap is hit
	MaxWorkspaces int           `yaml:"max_workspaces"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

// Dir returns ~/.apitester
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DirName), nil
}

// DefaultPath returns ~/.apitester/config.yaml
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Default returns the settings used when no file is present, rooted at dataDir
func Default(dataDir string) *Config {
	return &Config{
		Proxy: ProxyConfig{
			BaseURL:          "http://localhost:5000",
			Timeout:          30 * time.Second,
			MaxResponseBytes: 50 * 1024 * 1024,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "store.db"),
		},
		Tombstone: TombstoneConfig{
			Driver: "file",
			Path:   dataDir,
			Key:    "deletedHistory",
			Redis:  RedisConfig{Addr: "localhost:6379"},
		},
		History: HistoryConfig{PageSize: 50},
		Log: LogConfig{
			Level:      "warn",
			Format:     "console",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "apitester.log"),
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Server: ServerConfig{
			Address:        ":8080",
			IdentityHeader: "X-User-Id",
			EnableCORS:     true,
			MaxWorkspaces:  1024,
			IdleTimeout:    30 * time.Minute,
		},
	}
}

// Load reads path over the defaults. An empty path means DefaultPath; a
// missing file is not an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(dir, FileName)
	}

	cfg := Default(dir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		c.Proxy.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvStorePath); ok && strings.TrimSpace(v) != "" {
		c.Store.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvUser); ok {
		c.User = strings.TrimSpace(v)
	}
}

// Validate rejects unknown drivers and nonsensical sizes
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Tombstone.Driver {
	case "file", "redis":
	default:
		return fmt.Errorf("config: unknown tombstone driver %q", c.Tombstone.Driver)
	}
	if c.Tombstone.Key == "" {
		return errors.New("config: tombstone key must not be empty")
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("config: history page_size must be positive, got %d", c.History.PageSize)
	}
	if c.Server.MaxWorkspaces <= 0 {
		return fmt.Errorf("config: server max_workspaces must be positive, got %d", c.Server.MaxWorkspaces)
	}
	if c.Server.IdleTimeout <= 0 {
		return fmt.Errorf("config: server idle_timeout must be positive, got %s", c.Server.IdleTimeout)
	}
	return nil
}

// EnsureDir creates dir with owner-only permissions
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, SecureDirMode)
}
