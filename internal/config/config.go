// Package config loads the engine configuration: compiled defaults,
// then an optional YAML file, then MSGHUB_ environment variables. Later
// layers win per key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix; "__" separates nested
// keys, e.g. MSGHUB_STORAGE__MODE.
const EnvPrefix = "MSGHUB_"

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Mode is auto, native or host. Auto probes native first.
	Mode string `koanf:"mode"`
	// WriteIntervalMs is the document write coalescing window; 0 writes
	// immediately.
	WriteIntervalMs int `koanf:"writeIntervalMs"`
}

// ArchiveConfig tunes the per-ref event log.
type ArchiveConfig struct {
	FlushIntervalMs      int  `koanf:"flushIntervalMs"`
	MaxBatchSize         int  `koanf:"maxBatchSize"`
	KeepPreviousWeeks    int  `koanf:"keepPreviousWeeks"`
	MaxPathSegmentLength int  `koanf:"maxPathSegmentLength"`
	ThrowOnError         bool `koanf:"throwOnError"`
}

// QuietHoursConfig configures the notification suppression window.
type QuietHoursConfig struct {
	Enabled  bool `koanf:"enabled"`
	StartMin int  `koanf:"startMin"`
	EndMin   int  `koanf:"endMin"`
	MaxLevel int  `koanf:"maxLevel"`
	SpreadMs int  `koanf:"spreadMs"`
}

// StatsConfig tunes the closed-message rollup.
type StatsConfig struct {
	RollupKeepDays int `koanf:"rollupKeepDays"`
}

// AdminConfig configures the admin HTTP endpoint.
type AdminConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// Config is the full engine configuration.
type Config struct {
	DataDir    string           `koanf:"dataDir"`
	Namespace  string           `koanf:"namespace"`
	LogLevel   string           `koanf:"logLevel"`
	Storage    StorageConfig    `koanf:"storage"`
	Archive    ArchiveConfig    `koanf:"archive"`
	QuietHours QuietHoursConfig `koanf:"quietHours"`
	Stats      StatsConfig      `koanf:"stats"`
	Admin      AdminConfig      `koanf:"admin"`
}

// defaults is the compiled baseline layer.
func defaults() map[string]any {
	return map[string]any{
		"dataDir":                      defaultDataDir(),
		"namespace":                    "msghub.0",
		"logLevel":                     "info",
		"storage.mode":                 "auto",
		"storage.writeIntervalMs":      1000,
		"archive.flushIntervalMs":      1000,
		"archive.maxBatchSize":         50,
		"archive.keepPreviousWeeks":    4,
		"archive.maxPathSegmentLength": 120,
		"archive.throwOnError":         false,
		"quietHours.enabled":           false,
		"quietHours.startMin":          22 * 60,
		"quietHours.endMin":            6 * 60,
		"quietHours.maxLevel":          20,
		"quietHours.spreadMs":          60000,
		"stats.rollupKeepDays":         400,
		"admin.addr":                   ":8393",
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".config", "msghub")
	}
	return filepath.Join(dir, "msghub")
}

// Load builds the configuration from defaults, the optional YAML file
// at path (empty path skips the layer, a missing file is an error) and
// MSGHUB_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	return &cfg, nil
}

// envKey maps MSGHUB_STORAGE__MODE to storage.mode. Single underscores
// stay part of the key name.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	parts := strings.Split(s, "__")
	for i, p := range parts {
		parts[i] = camelize(strings.ToLower(p))
	}
	return strings.Join(parts, ".")
}

// camelize turns write_interval_ms into writeIntervalMs.
func camelize(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

// Validate bounds the values and ensures the data directory exists.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case "auto", "native", "host":
	default:
		return fmt.Errorf("storage.mode must be auto, native or host, got %q", c.Storage.Mode)
	}
	if c.Storage.WriteIntervalMs < 0 {
		return fmt.Errorf("storage.writeIntervalMs must not be negative")
	}
	if c.Archive.FlushIntervalMs < 0 {
		return fmt.Errorf("archive.flushIntervalMs must not be negative")
	}
	if c.Archive.MaxBatchSize < 1 {
		return fmt.Errorf("archive.maxBatchSize must be at least 1")
	}
	if c.Archive.KeepPreviousWeeks < 0 {
		return fmt.Errorf("archive.keepPreviousWeeks must not be negative")
	}
	if c.Archive.MaxPathSegmentLength < 16 {
		return fmt.Errorf("archive.maxPathSegmentLength must be at least 16")
	}
	if c.QuietHours.StartMin < 0 || c.QuietHours.StartMin >= 24*60 {
		return fmt.Errorf("quietHours.startMin out of range")
	}
	if c.QuietHours.EndMin < 0 || c.QuietHours.EndMin >= 24*60 {
		return fmt.Errorf("quietHours.endMin out of range")
	}
	if c.Stats.RollupKeepDays < 1 {
		return fmt.Errorf("stats.rollupKeepDays must be at least 1")
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// MessagesPath returns the path of the main message document.
func (c *Config) MessagesPath() string { return "messages.json" }

// RollupPath returns the path of the stats rollup document.
func (c *Config) RollupPath() string { return "stats-rollup.json" }
