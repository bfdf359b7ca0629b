package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// cliConfig holds command-line configuration.
type cliConfig struct {
	ConfigPath string
	LogLevel   int
	LogFormat  string
	LogFile    string
	Validate   bool
	Once       bool
}

func parseFlags(args []string, stderr io.Writer) (*cliConfig, error) {
	cfg := &cliConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaultCfg := filepath.Join(".", "modules.yml")
	if wd, err := os.Getwd(); err == nil {
		defaultCfg = filepath.Join(wd, "modules.yml")
	}

	// Flags fall back to environment variables.
	fs.StringVar(&cfg.ConfigPath, "cfg",
		getEnv("SERVOFLOW_CONFIG", defaultCfg),
		"Module configuration file (env: SERVOFLOW_CONFIG)")
	fs.IntVar(&cfg.LogLevel, "loglevel",
		getEnvInt("SERVOFLOW_LOG_LEVEL", 3),
		"Log level [0,5]: 0 trace, 1 debug, 2 info, 3 warning, 4 error, 5 critical (env: SERVOFLOW_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SERVOFLOW_LOG_FORMAT", "text"),
		"Log format: text, json (env: SERVOFLOW_LOG_FORMAT)")
	fs.StringVar(&cfg.LogFile, "logfile",
		getEnv("SERVOFLOW_LOG_FILE", ""),
		"Also append logs to this file (env: SERVOFLOW_LOG_FILE)")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.Once, "once", false, "Run a single cycle and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: %s [options]\n\nOptions:\n", appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *cliConfig) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("invalid log level: %d", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
