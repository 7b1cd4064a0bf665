package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	SourceDir       string
	StagingDir      string
	ListenAddress   string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("INCIDENTWATCH_CONFIG", ""),
		"Path to configuration file (env: INCIDENTWATCH_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("INCIDENTWATCH_CONFIG", ""),
		"Path to configuration file (env: INCIDENTWATCH_CONFIG)")

	flag.StringVar(&cfg.SourceDir, "source",
		getEnv("INCIDENTWATCH_SOURCE_DIR", ""),
		"CAD export source directory (env: INCIDENTWATCH_SOURCE_DIR)")

	flag.StringVar(&cfg.StagingDir, "staging",
		getEnv("INCIDENTWATCH_STAGING_DIR", ""),
		"Staging directory for export files (env: INCIDENTWATCH_STAGING_DIR)")

	flag.StringVar(&cfg.ListenAddress, "listen",
		getEnv("INCIDENTWATCH_SERVER_ADDRESS", ""),
		"HTTP listen address (env: INCIDENTWATCH_SERVER_ADDRESS)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("INCIDENTWATCH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: INCIDENTWATCH_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("INCIDENTWATCH_LOG_FORMAT", "text"),
		"Log format: json, text (env: INCIDENTWATCH_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("INCIDENTWATCH_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: INCIDENTWATCH_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
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

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - CAD incident aggregation and display feed

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/incidentwatch/config.json

  # Run with directories from flags
  %s --source=/var/cad/export --staging=/var/incidentwatch/staging

  # Run with environment variables
  export INCIDENTWATCH_SOURCE_DIR=/var/cad/export
  export INCIDENTWATCH_STAGING_DIR=/var/incidentwatch/staging
  %s

  # Validate configuration only
  %s --config=/etc/incidentwatch/config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
