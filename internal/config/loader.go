package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr          string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"`
	ModelsDir     string `json:"models_dir,omitempty" yaml:"models_dir,omitempty" toml:"models_dir,omitempty"`
	SelectedModel string `json:"selected_model,omitempty" yaml:"selected_model,omitempty" toml:"selected_model,omitempty"`
	CatalogFile   string `json:"catalog_file,omitempty" yaml:"catalog_file,omitempty" toml:"catalog_file,omitempty"`

	RequestTimeout Duration `json:"request_timeout,omitzero" yaml:"request_timeout,omitempty" toml:"request_timeout,omitempty"`
	StartupTimeout Duration `json:"startup_timeout,omitzero" yaml:"startup_timeout,omitempty" toml:"startup_timeout,omitempty"`
	HealthInterval Duration `json:"health_interval,omitzero" yaml:"health_interval,omitempty" toml:"health_interval,omitempty"`
	StatusInterval Duration `json:"status_interval,omitzero" yaml:"status_interval,omitempty" toml:"status_interval,omitempty"`

	ContextSize     int      `json:"context_size,omitempty" yaml:"context_size,omitempty" toml:"context_size,omitempty"`
	BatchSize       int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty" toml:"batch_size,omitempty"`
	GPULayers       int      `json:"gpu_layers,omitempty" yaml:"gpu_layers,omitempty" toml:"gpu_layers,omitempty"`
	EngineBin       string   `json:"engine_bin,omitempty" yaml:"engine_bin,omitempty" toml:"engine_bin,omitempty"`
	EngineHost      string   `json:"engine_host,omitempty" yaml:"engine_host,omitempty" toml:"engine_host,omitempty"`
	EnginePort      int      `json:"engine_port,omitempty" yaml:"engine_port,omitempty" toml:"engine_port,omitempty"`
	EngineExtraArgs []string `json:"engine_extra_args,omitempty" yaml:"engine_extra_args,omitempty" toml:"engine_extra_args,omitempty"`

	LogLevel    string   `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFile     string   `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`

	// Mode is "local" (default) or "remote".
	Mode           string `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	RemoteProvider string `json:"remote_provider,omitempty" yaml:"remote_provider,omitempty" toml:"remote_provider,omitempty"`
	RemoteModel    string `json:"remote_model,omitempty" yaml:"remote_model,omitempty" toml:"remote_model,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr           = "127.0.0.1:7373"
	DefaultRequestTimeout = 60 * time.Second
	DefaultStartupTimeout = 120 * time.Second
	DefaultHealthInterval = time.Second
	DefaultStatusInterval = 2 * time.Second
	DefaultContextSize    = 4096
	DefaultBatchSize      = 512
	DefaultEngineBin      = "llama-server"
	DefaultEngineHost     = "127.0.0.1"
	DefaultEnginePort     = 8765
)

// ApplyDefaults fills unspecified fields.
func (c Config) ApplyDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.StartupTimeout.Duration <= 0 {
		c.StartupTimeout.Duration = DefaultStartupTimeout
	}
	if c.HealthInterval.Duration <= 0 {
		c.HealthInterval.Duration = DefaultHealthInterval
	}
	if c.StatusInterval.Duration <= 0 {
		c.StatusInterval.Duration = DefaultStatusInterval
	}
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.EngineBin == "" {
		c.EngineBin = DefaultEngineBin
	}
	if c.EngineHost == "" {
		c.EngineHost = DefaultEngineHost
	}
	if c.EnginePort == 0 {
		c.EnginePort = DefaultEnginePort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Mode == "" {
		c.Mode = "local"
	}
	return c
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch c.Mode {
	case "", "local":
	case "remote":
		if c.RemoteProvider == "" || c.RemoteModel == "" {
			return fmt.Errorf("remote mode requires remote_provider and remote_model")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.EnginePort < 0 || c.EnginePort > 65535 {
		return fmt.Errorf("engine_port out of range: %d", c.EnginePort)
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Save writes cfg to path with the encoder matching its extension. The file
// is replaced atomically.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case ".json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return err
		}
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
