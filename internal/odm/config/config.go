// Package config loads marlin connection settings from marlin.yml or the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the transport and engine settings.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Indexes  IndexConfig    `mapstructure:"indexes"`
}

// DatabaseConfig describes the document-store connection.
type DatabaseConfig struct {
	URI     string        `mapstructure:"uri"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IndexConfig controls index declaration behavior.
type IndexConfig struct {
	Background bool `mapstructure:"background"`
}

// Load reads marlin.yml/marlin.yaml from the working directory, applying
// defaults and MARLIN_-prefixed environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "marlin")
	v.SetDefault("database.timeout", 10*time.Second)
	v.SetDefault("indexes.background", false)

	v.SetConfigName("marlin")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MARLIN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validate(c *Config) error {
	if c.Database.URI == "" {
		return fmt.Errorf("database.uri must not be empty")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name must not be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database.timeout must be positive")
	}
	return nil
}
