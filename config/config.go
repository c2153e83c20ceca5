// Package config loads and validates the application configuration from a
// JSON or YAML file, with environment variable overrides layered on top.
// The zero configuration is fully usable: stdin to stdout with the default
// schema.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PauloFidalgo/cmov-5g/errors"
	execinput "github.com/PauloFidalgo/cmov-5g/input/exec"
	fileinput "github.com/PauloFidalgo/cmov-5g/input/file"
	csvoutput "github.com/PauloFidalgo/cmov-5g/output/csv"
	natsoutput "github.com/PauloFidalgo/cmov-5g/output/nats"
	"github.com/PauloFidalgo/cmov-5g/schema"
)

// DefaultEnvPrefix is the prefix for environment variable overrides
const DefaultEnvPrefix = "KPMSTREAM"

// AssemblerConfig selects the windowing behavior
type AssemblerConfig struct {
	Mode           string `json:"mode"             yaml:"mode"`             // "single" or "multi"
	SealOnTerminal *bool  `json:"seal_on_terminal" yaml:"seal_on_terminal"` // nil means true
}

// InputConfig selects and configures the stream source. Exec takes
// precedence over the file source when a command is set.
type InputConfig struct {
	File fileinput.Config `json:"file" yaml:"file"`
	Exec execinput.Config `json:"exec" yaml:"exec"`
}

// OutputConfig configures the emission sinks. CSV is always on; NATS
// publishing is enabled by setting a URL.
type OutputConfig struct {
	CSV  csvoutput.Config  `json:"csv"  yaml:"csv"`
	NATS natsoutput.Config `json:"nats" yaml:"nats"`
	// NATSEnabled turns on record publishing alongside the CSV file
	NATSEnabled bool `json:"nats_enabled" yaml:"nats_enabled"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `json:"level"  yaml:"level"`  // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Config is the complete application configuration
type Config struct {
	Schema    schema.Spec     `json:"schema"    yaml:"schema"`
	Assembler AssemblerConfig `json:"assembler" yaml:"assembler"`
	Input     InputConfig     `json:"input"     yaml:"input"`
	Output    OutputConfig    `json:"output"    yaml:"output"`
	Metrics   MetricsConfig   `json:"metrics"   yaml:"metrics"`
	Logging   LoggingConfig   `json:"logging"   yaml:"logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Assembler: AssemblerConfig{Mode: "single"},
		Input: InputConfig{
			File: fileinput.DefaultConfig(),
			Exec: execinput.Config{KillTimeout: 5 * time.Second},
		},
		Output: OutputConfig{
			CSV:  csvoutput.DefaultConfig(),
			NATS: natsoutput.DefaultConfig(),
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SealTerminal resolves the tri-state seal_on_terminal option; unset means
// enabled
func (c *AssemblerConfig) SealTerminal() bool {
	if c.SealOnTerminal == nil {
		return true
	}
	return *c.SealOnTerminal
}

// Validate checks the configuration for errors, cascading into each section
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"logging format must be text or json")
	}

	if c.Assembler.Mode != "" {
		if _, err := parseModeName(c.Assembler.Mode); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"metrics port must be between 1 and 65535")
		}
	}

	if len(c.Schema.Fields) > 0 {
		if _, err := schema.New(c.Schema); err != nil {
			return err
		}
	}

	if err := c.Input.File.Validate(); err != nil {
		return err
	}
	if c.Input.Exec.Command != "" {
		if err := c.Input.Exec.Validate(); err != nil {
			return err
		}
	}
	if err := c.Output.CSV.Validate(); err != nil {
		return err
	}
	if c.Output.NATSEnabled {
		if err := c.Output.NATS.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// BuildSchema compiles the configured schema, falling back to the built-in
// KPM schema when the file declares none.
func (c *Config) BuildSchema() (*schema.Schema, error) {
	if len(c.Schema.Fields) == 0 {
		return schema.Default(), nil
	}
	return schema.New(c.Schema)
}

// parseModeName validates an assembler mode name without importing the
// assembler package (config sits below it in the dependency order)
func parseModeName(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "single", "multi":
		return strings.ToLower(s), nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown assembler mode %q", s),
			"Config", "Validate", "mode parsing")
	}
}

// ParseLevel validates a logging level name
func ParseLevel(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "debug", "info", "warn", "error":
		return strings.ToLower(s), nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", s),
			"Config", "ParseLevel", "level parsing")
	}
}

// Loader reads configuration files and applies environment overrides
type Loader struct {
	envPrefix string
}

// NewLoader creates a Loader using the given environment prefix; empty
// selects DefaultEnvPrefix
func NewLoader(envPrefix string) *Loader {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &Loader{envPrefix: envPrefix}
}

// Load reads the configuration at path. An empty path yields the defaults
// with environment overrides applied. The format follows the file extension:
// .yaml and .yml parse as YAML, everything else as JSON.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read config file")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "parse config file")
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the file values
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_INPUT"); val != "" {
		cfg.Input.File.Path = val
	}
	if val := os.Getenv(l.envPrefix + "_OUTPUT"); val != "" {
		cfg.Output.CSV.Path = val
	}
	if val := os.Getenv(l.envPrefix + "_MODE"); val != "" {
		cfg.Assembler.Mode = val
	}
	if val := os.Getenv(l.envPrefix + "_FOLLOW"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Input.File.Follow = b
		}
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.Output.NATS.URL = val
		cfg.Output.NATSEnabled = true
	}
	if val := os.Getenv(l.envPrefix + "_NATS_SUBJECT"); val != "" {
		cfg.Output.NATS.Subject = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = p
			cfg.Metrics.Enabled = true
		}
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
