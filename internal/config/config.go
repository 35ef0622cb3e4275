// Package config loads the daemon configuration from a JSON file, with
// sensible defaults and REPLAYTRIM_* environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds the fully processed application configuration.
type Config struct {
	// ListenAddr is the HTTP control API address.
	ListenAddr string `mapstructure:"listen_addr"`
	// LogLevel is one of error, warn, info, debug.
	LogLevel string `mapstructure:"log_level"`
	// BufferLengthSeconds is the configured replay buffer length. Save
	// requests may not exceed it.
	BufferLengthSeconds int `mapstructure:"buffer_length_seconds"`
	// OutputSuffix is inserted before the extension of a trimmed file.
	OutputSuffix string `mapstructure:"output_suffix"`
	// RemoveSourceAfterTrim deletes the original recording once a trim
	// reported success. The trimmed file stays at its sibling path.
	RemoveSourceAfterTrim bool `mapstructure:"remove_source_after_trim"`
	// TrimWorkers is the number of concurrent trim jobs.
	TrimWorkers int `mapstructure:"trim_workers"`
}

// Load reads the configuration. With an empty path the default locations are
// searched (working directory, then the user config directory); a missing
// file there is not an error and the defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8573")
	v.SetDefault("log_level", "info")
	v.SetDefault("buffer_length_seconds", 300)
	v.SetDefault("output_suffix", "_trimmed")
	v.SetDefault("remove_source_after_trim", true)
	v.SetDefault("trim_workers", 2)

	v.SetEnvPrefix("replaytrim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("replaytrim")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "replaytrim"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BufferLengthSeconds <= 0 {
		return fmt.Errorf("buffer_length_seconds must be positive, got %d", c.BufferLengthSeconds)
	}
	if c.TrimWorkers <= 0 {
		return fmt.Errorf("trim_workers must be positive, got %d", c.TrimWorkers)
	}
	if c.OutputSuffix == "" {
		return fmt.Errorf("output_suffix must not be empty")
	}
	return nil
}
