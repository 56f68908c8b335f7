package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (MCPCONSOLE_LISTEN, ...)
const EnvPrefix = "MCPCONSOLE"

// settings are the scalar options that viper may override from flags and the
// environment. Servers and profiles are decoded straight from the file because
// viper lowercases map keys, which would corrupt env and header names.
type settings struct {
	Listen              string     `mapstructure:"listen"`
	DataDir             string     `mapstructure:"data_dir"`
	Logging             *LogConfig `mapstructure:"logging"`
	ConnectionTimeout   Duration   `mapstructure:"connection_timeout"`
	HealthCheckInterval Duration   `mapstructure:"health_check_interval"`
	InitialView         string     `mapstructure:"initial_view"`
	CORSAllowedOrigins  []string   `mapstructure:"cors_allowed_origins"`
}

// NewViper returns a viper instance preloaded with defaults and environment
// bindings. Callers may bind command-line flags to it before loading.
func NewViper() *viper.Viper {
	v := viper.New()
	def := DefaultConfig()

	v.SetDefault("listen", def.Listen)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("connection_timeout", def.ConnectionTimeout.Duration().String())
	v.SetDefault("health_check_interval", def.HealthCheckInterval.Duration().String())
	v.SetDefault("initial_view", def.InitialView)
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.enable_file", def.Logging.EnableFile)
	v.SetDefault("logging.enable_console", def.Logging.EnableConsole)
	v.SetDefault("logging.filename", def.Logging.Filename)
	v.SetDefault("logging.log_dir", def.Logging.LogDir)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.json_format", def.Logging.JSONFormat)
	v.SetDefault("logging.protocol.enabled", def.Logging.Protocol.Enabled)
	v.SetDefault("logging.protocol.filename", def.Logging.Protocol.Filename)
	v.SetDefault("logging.protocol.buffer_size", def.Logging.Protocol.BufferSize)
	v.SetDefault("logging.protocol.include_payload", def.Logging.Protocol.IncludePayload)
	v.SetDefault("logging.protocol.include_headers", def.Logging.Protocol.IncludeHeaders)
	v.SetDefault("logging.protocol.max_payload_size", def.Logging.Protocol.MaxPayloadSize)
	v.SetDefault("logging.protocol.filter_sensitive", def.Logging.Protocol.FilterSensitive)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// DefaultConfigPath returns ~/.mcpconsole/config.json
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfig().DataDir, "config.json")
}

// LoadFromFile loads configuration using a fresh viper instance
func LoadFromFile(path string) (*Config, error) {
	return Load(NewViper(), path)
}

// Load reads the configuration file at path (a missing file yields defaults),
// applies viper overrides, normalizes and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	var raw []byte
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			raw = data
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var s settings
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&s, hooks); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	cfg.Listen = s.Listen
	cfg.DataDir = s.DataDir
	cfg.ConnectionTimeout = s.ConnectionTimeout
	cfg.HealthCheckInterval = s.HealthCheckInterval
	cfg.InitialView = s.InitialView
	cfg.CORSAllowedOrigins = s.CORSAllowedOrigins
	if s.Logging != nil {
		cfg.Logging = s.Logging
	}

	if cfg.Servers == nil {
		cfg.Servers = []*ServerConfig{}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = []*ProfileConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Normalize()

	if _, err := ApplyDotEnvToServers(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as indented JSON
func SaveToFile(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
