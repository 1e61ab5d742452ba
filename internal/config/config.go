// Package config provides configuration loading and validation for the engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the engine configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI
// flags or environment variables.
type Config struct {
	// External services
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key

	// Scheduling
	MaxConcurrentJobs int `json:"max_concurrent_jobs,omitempty"` // Worker pool ceiling
	PollSeconds       int `json:"poll_seconds,omitempty"`        // Scheduler poll interval
	WatchdogSeconds   int `json:"watchdog_seconds,omitempty"`    // Watchdog scan interval
	JobTimeoutMinutes int `json:"job_timeout_minutes,omitempty"` // Running-job time budget

	// Server
	Port int `json:"port,omitempty"` // HTTP listen port
}

// Defaults returns the built-in defaults.
func Defaults() Config {
	return Config{
		MaxConcurrentJobs: 2,
		PollSeconds:       5,
		WatchdogSeconds:   120,
		JobTimeoutMinutes: 30,
		Port:              8080,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("config error: 'max_concurrent_jobs' must be non-negative")
	}
	if c.PollSeconds < 0 {
		return fmt.Errorf("config error: 'poll_seconds' must be non-negative")
	}
	if c.WatchdogSeconds < 0 {
		return fmt.Errorf("config error: 'watchdog_seconds' must be non-negative")
	}
	if c.JobTimeoutMinutes < 0 {
		return fmt.Errorf("config error: 'job_timeout_minutes' must be non-negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be a valid port number")
	}
	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.MaxConcurrentJobs == 0 {
		result.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if result.PollSeconds == 0 {
		result.PollSeconds = defaults.PollSeconds
	}
	if result.WatchdogSeconds == 0 {
		result.WatchdogSeconds = defaults.WatchdogSeconds
	}
	if result.JobTimeoutMinutes == 0 {
		result.JobTimeoutMinutes = defaults.JobTimeoutMinutes
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	return result
}

// PollInterval returns the scheduler poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// WatchdogInterval returns the watchdog scan interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogSeconds) * time.Second
}

// JobTimeout returns the running-job time budget as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}
