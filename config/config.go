package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cipherglass/cipherglass/mirrors"
)

// Config holds the engine configuration for a host application
type Config struct {
	DatabasePath     string `json:"database_path"`
	LogPath          string `json:"log_path"`
	LogLevel         string `json:"log_level"`
	RetryBaseDelayMs int    `json:"retry_base_delay_ms"`
	RetryMaxDelayMs  int    `json:"retry_max_delay_ms"`
	RetryMaxAttempts int    `json:"retry_max_attempts"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {

	dbDir := "."

	homeDir, err := os.UserHomeDir()
	if err == nil && homeDir != "" {
		dbDir = filepath.Join(homeDir, "cipherglass")

		// Ensure the directory exists
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			dbDir = "."
		}
	}

	retry := mirrors.DefaultRetryPolicy()

	return &Config{
		DatabasePath:     filepath.Join(dbDir, "cipherglass.db"),
		LogPath:          "logs",
		LogLevel:         "info",
		RetryBaseDelayMs: int(retry.BaseDelay / time.Millisecond),
		RetryMaxDelayMs:  int(retry.MaxDelay / time.Millisecond),
		RetryMaxAttempts: retry.MaxAttempts,
	}
}

// LoadConfig loads the configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file doesn't exist, we can proceed with the default config
			return config, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RetryBaseDelayMs <= 0 {
		return fmt.Errorf("invalid retry base delay: %d", c.RetryBaseDelayMs)
	}
	if c.RetryMaxDelayMs < c.RetryBaseDelayMs {
		return fmt.Errorf("retry max delay %d is below the base delay %d", c.RetryMaxDelayMs, c.RetryBaseDelayMs)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("invalid retry attempt limit: %d", c.RetryMaxAttempts)
	}
	return nil
}

// RetryPolicy maps the configured retry bounds onto the replicator's policy
func (c *Config) RetryPolicy() mirrors.RetryPolicy {
	return mirrors.RetryPolicy{
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		MaxAttempts: c.RetryMaxAttempts,
	}
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}

	return nil
}
