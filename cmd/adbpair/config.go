package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageFile = "file"
	StorageBolt = "bolt"
)

// Config holds the command configuration. Values come from defaults, then the
// optional YAML file, then explicitly set flags.
type Config struct {
	ConfigFile string `yaml:"-"`

	// DataDir holds the identity and trust list.
	DataDir string `yaml:"data_dir"`

	// Storage selects the backend: file or bolt.
	Storage string `yaml:"storage"`

	// PassphraseEnv names the environment variable holding the key passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`

	// Organization is written into a newly generated identity certificate.
	Organization string `yaml:"organization"`

	Timeout     time.Duration `yaml:"timeout"`
	LogLevel    string        `yaml:"log_level"`
	ProtocolLog string        `yaml:"protocol_log"`
	MetricsAddr string        `yaml:"metrics_addr"`

	// RatePerMinute bounds pairing attempts. Zero disables the limit.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	RateBurst     int     `yaml:"rate_burst"`

	// Listen is the address for serve mode.
	Listen string `yaml:"listen"`

	Interactive bool `yaml:"interactive"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	dir := ".adbpair"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".adbpair")
	}
	return Config{
		DataDir:       dir,
		Storage:       StorageFile,
		PassphraseEnv: "ADBPAIR_PASSPHRASE",
		Organization:  "adbpair",
		Timeout:       30 * time.Second,
		LogLevel:      "info",
		RateBurst:     1,
		Listen:        "127.0.0.1:37000",
	}
}

// parseConfig builds the configuration from args and returns the remaining
// positional arguments.
func parseConfig(args []string) (Config, []string, error) {
	config := DefaultConfig()

	fs := flag.NewFlagSet("adbpair", flag.ContinueOnError)
	var flags Config
	fs.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&flags.DataDir, "data-dir", config.DataDir, "Directory for identity and trusted peers")
	fs.StringVar(&flags.Storage, "storage", config.Storage, "Storage backend: file, bolt")
	fs.StringVar(&flags.PassphraseEnv, "passphrase-env", config.PassphraseEnv, "Environment variable holding the key passphrase")
	fs.StringVar(&flags.Organization, "organization", config.Organization, "Organization for a new identity certificate")
	fs.DurationVar(&flags.Timeout, "timeout", config.Timeout, "Pairing attempt timeout")
	fs.StringVar(&flags.LogLevel, "log-level", config.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol events to this file (CBOR)")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Float64Var(&flags.RatePerMinute, "rate", 0, "Maximum pairing attempts per minute (0 = unlimited)")
	fs.IntVar(&flags.RateBurst, "rate-burst", config.RateBurst, "Pairing attempt burst size")
	fs.StringVar(&flags.Listen, "listen", config.Listen, "Listen address for serve mode")
	fs.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	if flags.ConfigFile != "" {
		if err := config.loadFile(flags.ConfigFile); err != nil {
			return Config{}, nil, err
		}
		config.ConfigFile = flags.ConfigFile
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			config.DataDir = flags.DataDir
		case "storage":
			config.Storage = flags.Storage
		case "passphrase-env":
			config.PassphraseEnv = flags.PassphraseEnv
		case "organization":
			config.Organization = flags.Organization
		case "timeout":
			config.Timeout = flags.Timeout
		case "log-level":
			config.LogLevel = flags.LogLevel
		case "protocol-log":
			config.ProtocolLog = flags.ProtocolLog
		case "metrics-addr":
			config.MetricsAddr = flags.MetricsAddr
		case "rate":
			config.RatePerMinute = flags.RatePerMinute
		case "rate-burst":
			config.RateBurst = flags.RateBurst
		case "listen":
			config.Listen = flags.Listen
		case "interactive":
			config.Interactive = flags.Interactive
		}
	})

	if err := config.Validate(); err != nil {
		return Config{}, nil, err
	}
	return config, fs.Args(), nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	switch c.Storage {
	case StorageFile, StorageBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (use: file, bolt)", c.Storage))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative, got %v", c.RatePerMinute))
	}
	if c.RatePerMinute > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate burst must be at least 1, got %d", c.RateBurst))
	}
	return errors.Join(errs...)
}

// Passphrase returns the key passphrase from the configured environment
// variable, or "" when unset.
func (c *Config) Passphrase() string {
	if c.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.PassphraseEnv)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (use: debug, info, warn, error)", s)
	}
}
