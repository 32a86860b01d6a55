// Package config provides configuration types, defaults, and persistence for oplog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config holds all oplog configuration.
type Config struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	StaticDir string        `mapstructure:"static_dir" yaml:"static_dir"`
	Store     StoreConfig   `mapstructure:"store" yaml:"store"`
	Tracing   TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects where documents and their operation logs live.
type StoreConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`                     // "memory" (default), "sqlite", or "firestore"
	SQLitePath       string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`             // database file for the sqlite backend
	FirestoreProject string        `mapstructure:"firestore_project" yaml:"firestore_project"` // GCP project for the firestore backend
	Cache            bool          `mapstructure:"cache" yaml:"cache"`                         // wrap the backend in the write-behind cache
	FlushInterval    time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// TracingConfig configures span export for op batches.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"` // "stdout", "otlp", or "none"
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
}

// Defaults returns the configuration used when no file or env overrides it.
func Defaults() Config {
	return Config{
		Addr: ":8080",
		Store: StoreConfig{
			Backend:       BackendMemory,
			SQLitePath:    filepath.Join(".oplog", "oplog.db"),
			FlushInterval: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "oplog",
		},
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if err := ValidateStore(c.Store); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateStore checks the store section.
func ValidateStore(s StoreConfig) error {
	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case BackendFirestore:
		if s.FirestoreProject == "" {
			return fmt.Errorf("store.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q, %q, or %q, got %q",
			BackendMemory, BackendSQLite, BackendFirestore, s.Backend)
	}
	if s.Cache && s.FlushInterval <= 0 {
		return fmt.Errorf("store.flush_interval must be positive when cache is enabled, got %s", s.FlushInterval)
	}
	return nil
}

// ValidateTracing checks the tracing section. Exporter settings are only
// checked when tracing is enabled.
func ValidateTracing(t TracingConfig) error {
	if !t.Enabled {
		return nil
	}
	switch t.Exporter {
	case "stdout", "none", "":
	case "otlp":
		if t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be \"stdout\", \"otlp\", or \"none\", got %q", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", t.SampleRate)
	}
	return nil
}

const defaultHeader = "# oplog configuration\n# Environment variables prefixed with OPLOG_ override these values.\n\n"

// WriteDefaultConfig writes Defaults() as YAML to configPath, creating the
// parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(configPath, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
