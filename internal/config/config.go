// Package config loads and validates the mailprobe YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Verifier VerifierConfig `yaml:"verifier"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN of the server
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 5m, downloads can be slow)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // Max CSV upload size (default: 5MB)
}

// VerifierConfig contains SMTP verification settings
type VerifierConfig struct {
	HeloDomain    string        `yaml:"helo_domain"`     // Domain announced in HELO
	MailFrom      string        `yaml:"mail_from"`       // Envelope sender for probes
	Timeout       time.Duration `yaml:"timeout"`         // Per-verification timeout (default: 10s)
	CacheTTL      time.Duration `yaml:"cache_ttl"`       // MX and catch-all cache TTL (default: 5m)
	CatchAllCheck bool          `yaml:"catch_all_check"` // Probe a random mailbox first
}

// JobsConfig contains bulk job settings
type JobsConfig struct {
	Workers       int           `yaml:"workers"`        // Concurrent rows per job (default: 8)
	MaxRows       int           `yaml:"max_rows"`       // Upload row cap (default: 1000)
	RowTimeout    time.Duration `yaml:"row_timeout"`    // Per-row processing timeout (default: 60s)
	Retention     time.Duration `yaml:"retention"`      // Keep finished jobs this long (default: 1h)
	SweepInterval time.Duration `yaml:"sweep_interval"` // How often to evict expired jobs (default: 5m)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 5 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.MaxUploadBytes == 0 {
		c.API.MaxUploadBytes = 5 * 1024 * 1024 // 5MB
	}

	if c.Verifier.HeloDomain == "" {
		c.Verifier.HeloDomain = c.Server.Hostname
	}
	if c.Verifier.MailFrom == "" {
		c.Verifier.MailFrom = "verify@" + c.Verifier.HeloDomain
	}
	if c.Verifier.Timeout == 0 {
		c.Verifier.Timeout = 10 * time.Second
	}
	if c.Verifier.CacheTTL == 0 {
		c.Verifier.CacheTTL = 5 * time.Minute
	}

	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 8
	}
	if c.Jobs.MaxRows == 0 {
		c.Jobs.MaxRows = 1000
	}
	if c.Jobs.RowTimeout == 0 {
		c.Jobs.RowTimeout = 60 * time.Second
	}
	if c.Jobs.Retention == 0 {
		c.Jobs.Retention = time.Hour
	}
	if c.Jobs.SweepInterval == 0 {
		c.Jobs.SweepInterval = 5 * time.Minute
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/mailprobe/jobs.db"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1")
	}
	if c.Jobs.MaxRows < 1 {
		return fmt.Errorf("jobs.max_rows must be at least 1")
	}
	if c.Verifier.Timeout <= 0 {
		return fmt.Errorf("verifier.timeout must be positive")
	}
	if c.Jobs.RowTimeout < c.Verifier.Timeout {
		return fmt.Errorf("jobs.row_timeout must not be shorter than verifier.timeout")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
