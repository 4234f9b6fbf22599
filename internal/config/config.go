// Package config loads chatgate settings from YAML or TOML.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/chatgate/internal/alert"
	"github.com/ppiankov/chatgate/internal/recordstore"
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// Config holds all chatgate settings.
type Config struct {
	Listen             string `yaml:"listen" toml:"listen"`
	GRPCListen         string `yaml:"grpc_listen" toml:"grpc_listen"`
	Upstream           string `yaml:"upstream" toml:"upstream"`
	ChatPath           string `yaml:"chat_path" toml:"chat_path"`
	UpstreamTimeoutSec int    `yaml:"upstream_timeout_seconds" toml:"upstream_timeout_seconds"`
	TrustForwarded     bool   `yaml:"trust_forwarded" toml:"trust_forwarded"`
	PlaceholderAddress string `yaml:"placeholder_address" toml:"placeholder_address"`

	Store     recordstore.Options `yaml:"store" toml:"store"`
	AuditLog  string              `yaml:"audit_log" toml:"audit_log"`
	TamperLog string              `yaml:"tamper_log" toml:"tamper_log"` // empty disables
	Alerts    []alert.Target      `yaml:"alerts" toml:"alerts"`
	Log       LogConfig           `yaml:"log" toml:"log"`
	SIMDHash  bool                `yaml:"simd_hash" toml:"simd_hash"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Listen:             ":8080",
		GRPCListen:         "127.0.0.1:9090",
		Upstream:           "http://127.0.0.1:8000/api/chat",
		ChatPath:           "/api/chat",
		UpstreamTimeoutSec: 15,
		TrustForwarded:     true,
		PlaceholderAddress: "127.0.0.1",
		Store:              recordstore.Options{Kind: recordstore.KindFile},
		Log:                LogConfig{Level: "info", Format: "text"},
	}
}

// UpstreamTimeout returns the backend call timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	if c.UpstreamTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.UpstreamTimeoutSec) * time.Second
}

// DefaultPath returns ~/.chatgate/config.yaml, or "" if home is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatgate", "config.yaml")
}

// Load reads configuration from path.
// Empty path falls back to ~/.chatgate/config.yaml.
// Missing file returns defaults. Invalid content returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw bytes
// on disk. When no file exists, the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return DefaultConfig(), hashOf(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashOf(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, the file overwrites only specified fields
	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, hashOf(data), nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.ChatPath == "" || !strings.HasPrefix(c.ChatPath, "/") {
		return fmt.Errorf("chat_path must start with '/', got %q", c.ChatPath)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
	}
	return nil
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
