package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	InputPath       string
	OutputPath      string
	ExecCommand     string
	Delimiter       string
	Mode            string
	Follow          bool
	NATSURL         string
	NATSSubject     string
	MetricsPort     int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// names of flags the user actually set, so unset flags never
	// clobber file-provided values
	set map[string]bool
}

// IsSet reports whether the named flag was given on the command line
func (c *CLIConfig) IsSet(name string) bool {
	return c.set[name]
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("KPMSTREAM_CONFIG", ""),
		"Path to configuration file (env: KPMSTREAM_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("KPMSTREAM_CONFIG", ""),
		"Path to configuration file (env: KPMSTREAM_CONFIG)")

	flag.StringVar(&cfg.InputPath, "input",
		getEnv("KPMSTREAM_INPUT", "-"),
		"Input file path, - for stdin (env: KPMSTREAM_INPUT)")
	flag.StringVar(&cfg.InputPath, "i",
		getEnv("KPMSTREAM_INPUT", "-"),
		"Input file path, - for stdin (env: KPMSTREAM_INPUT)")

	flag.StringVar(&cfg.OutputPath, "output",
		getEnv("KPMSTREAM_OUTPUT", "-"),
		"Output CSV path, - for stdout (env: KPMSTREAM_OUTPUT)")
	flag.StringVar(&cfg.OutputPath, "o",
		getEnv("KPMSTREAM_OUTPUT", "-"),
		"Output CSV path, - for stdout (env: KPMSTREAM_OUTPUT)")

	flag.StringVar(&cfg.ExecCommand, "exec",
		getEnv("KPMSTREAM_EXEC", ""),
		"Run this command and read its stdout instead of a file (env: KPMSTREAM_EXEC)")

	flag.StringVar(&cfg.Delimiter, "delimiter",
		getEnv("KPMSTREAM_DELIMITER", ","),
		"CSV cell delimiter (env: KPMSTREAM_DELIMITER)")

	flag.StringVar(&cfg.Mode, "mode",
		getEnv("KPMSTREAM_MODE", "single"),
		"Assembly mode: single, multi (env: KPMSTREAM_MODE)")

	flag.BoolVar(&cfg.Follow, "follow",
		getEnvBool("KPMSTREAM_FOLLOW", false),
		"Keep reading the input file as it grows (env: KPMSTREAM_FOLLOW)")
	flag.BoolVar(&cfg.Follow, "f",
		getEnvBool("KPMSTREAM_FOLLOW", false),
		"Keep reading the input file as it grows (env: KPMSTREAM_FOLLOW)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("KPMSTREAM_NATS_URL", ""),
		"Also publish records to this NATS server (env: KPMSTREAM_NATS_URL)")

	flag.StringVar(&cfg.NATSSubject, "nats-subject",
		getEnv("KPMSTREAM_NATS_SUBJECT", "telemetry.kpm"),
		"Subject for published records (env: KPMSTREAM_NATS_SUBJECT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("KPMSTREAM_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: KPMSTREAM_METRICS_PORT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("KPMSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: KPMSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("KPMSTREAM_LOG_FORMAT", "text"),
		"Log format: text, json (env: KPMSTREAM_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("KPMSTREAM_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: KPMSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	cfg.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})
	// Short aliases count as their long form
	for long, short := range map[string]string{
		"config": "c", "input": "i", "output": "o", "follow": "f",
	} {
		if cfg.set[short] {
			cfg.set[long] = true
		}
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	validModes := []string{"single", "multi"}
	if !contains(validModes, cfg.Mode) {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.Follow && cfg.InputPath == "-" {
		return fmt.Errorf("follow mode requires an input file")
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - KPM telemetry record assembler

Reads a FlexRIC xApp KPM indication dump and writes one CSV row per
completed measurement record.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Assemble a captured dump into a CSV file
  %s --input=xapp_dump.txt --output=kpm.csv

  # Follow a live dump, one row per UE per indication
  %s --input=/var/log/xapp.txt --follow --mode=multi --output=kpm.csv

  # Pipe from the xApp directly and publish to NATS
  ./xapp_kpm_moni | %s --nats-url=nats://localhost:4222 --output=kpm.csv

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
