// Package config provides the configuration sections and viper loading
// shared by firehose services. Each service keeps its own Config struct and
// defaults in <service>/internal/config.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecretsConfig selects where bearer credentials come from.
type SecretsConfig struct {
	// Provider is "env", "file" or "env+file".
	Provider  string `mapstructure:"provider"`
	EnvPrefix string `mapstructure:"env_prefix"`
	Dir       string `mapstructure:"dir"`
}

// SetSharedDefaults registers defaults for the shared sections.
func SetSharedDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.env_prefix", "FIREHOSE_")
	v.SetDefault("secrets.dir", "/run/secrets")
}

// Read loads configPath into v, or searches ./config.yaml and
// /etc/firehose/<service>/config.yaml when configPath is empty. A missing
// searched file is not an error. Environment variables named
// <envPrefix>_<KEY> override file values, with "." in keys replaced by "_".
// The result is unmarshalled into out.
func Read(v *viper.Viper, service, envPrefix, configPath string, out any) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/firehose/" + service)
	}

	// Environment variables override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
