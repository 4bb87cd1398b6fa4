// Package config loads process-wide settings from a config file and
// environment variables.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"

	"github.com/blockvirt/go-vdev/internal/constants"
)

// Config holds the tunable settings for the dispatch queue, backing store,
// logging, and presented volume identity.
type Config struct {
	// Dispatch queue sizing
	Workers int `mapstructure:"workers"`
	Backlog int `mapstructure:"backlog"`

	// Backing store behavior
	DirectIO bool `mapstructure:"direct_io"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Presented volume identity
	Vendor   string `mapstructure:"vendor"`
	Product  string `mapstructure:"product"`
	Revision string `mapstructure:"revision"`
}

// Load reads configuration from vdev-config.yaml (searched in the working
// directory, $HOME/.vdev, and /etc/vdev) and VDEV_* environment variables.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("vdev-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.vdev")
	v.AddConfigPath("/etc/vdev")

	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("backlog", constants.DefaultBacklog)
	v.SetDefault("direct_io", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("vendor", "")
	v.SetDefault("product", "")
	v.SetDefault("revision", "")

	v.SetEnvPrefix("VDEV")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = constants.DefaultBacklog
	}

	return &cfg, nil
}
