// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with precedence
// ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration.
type Config struct {
	// DataDir is the daemon's writable state directory. Session records and
	// staged package artifacts live beneath it.
	DataDir string `yaml:"dataDir"`

	// ApexRoot is the directory holding activated package content, one
	// directory per name@version plus one alias entry per name.
	ApexRoot string `yaml:"apexRoot"`

	// SessionsBackend selects the durable session store: "badger",
	// "sqlite" or "memory".
	SessionsBackend string `yaml:"sessionsBackend"`

	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	RateLimitEnabled bool `yaml:"rateLimitEnabled"`
	RateLimitRPM     int  `yaml:"rateLimitRpm"`

	TracingEnabled  bool    `yaml:"tracingEnabled"`
	TracingEndpoint string  `yaml:"tracingEndpoint"`
	TracingSampling float64 `yaml:"tracingSampling"`

	HookTimeout time.Duration `yaml:"hookTimeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DataDir:         "/data/apex",
		ApexRoot:        "/apex",
		SessionsBackend: "badger",
		ListenAddr:      "127.0.0.1:8225",
		LogLevel:        "info",
		LogService:      "apexd",
		RateLimitEnabled: false,
		RateLimitRPM:     120,
		TracingSampling:  1.0,
		HookTimeout:      30 * time.Second,
	}
}

// SessionsDir is the durable session store location under DataDir.
func (c Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }

// PackagesDir holds staged package artifacts, one file per name@version.
func (c Config) PackagesDir() string { return filepath.Join(c.DataDir, "active") }

// Load builds the configuration with precedence ENV > file > defaults.
// An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.DataDir = ParseString("APEXD_DATA", cfg.DataDir)
	cfg.ApexRoot = ParseString("APEXD_APEX_ROOT", cfg.ApexRoot)
	cfg.SessionsBackend = ParseString("APEXD_SESSIONS_BACKEND", cfg.SessionsBackend)
	cfg.ListenAddr = ParseString("APEXD_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("APEXD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("APEXD_LOG_SERVICE", cfg.LogService)
	cfg.RateLimitEnabled = ParseBool("APEXD_RATE_LIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPM = ParseInt("APEXD_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.TracingEnabled = ParseBool("APEXD_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingEndpoint = ParseString("APEXD_TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat("APEXD_TRACING_SAMPLING", cfg.TracingSampling)
	cfg.HookTimeout = ParseDuration("APEXD_HOOK_TIMEOUT", cfg.HookTimeout)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.ApexRoot == "" {
		return fmt.Errorf("apexRoot must not be empty")
	}
	switch c.SessionsBackend {
	case "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown sessions backend %q (want badger, sqlite or memory)", c.SessionsBackend)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("rateLimitRpm must be positive")
	}
	if c.TracingSampling < 0 || c.TracingSampling > 1 {
		return fmt.Errorf("tracingSampling must be within [0, 1]")
	}
	return nil
}
