package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cbodonnell/starminers/pkg/auth"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is stripped from environment variables. A double underscore
	// separates nested keys: STARMINERS_SERVER__PORT sets server.port.
	EnvPrefix = "STARMINERS_"
	// ConfigPathEnvVar names the config file when no path is given on the command line
	ConfigPathEnvVar = "STARMINERS_CONFIG"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Feed     FeedConfig     `koanf:"feed"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port         int             `koanf:"port" validate:"min=1,max=65535"`
	TLS          TLSConfig       `koanf:"tls"`
	AllowOrigins []string        `koanf:"allow_origins"`
	RateLimit    RateLimitConfig `koanf:"rate_limit"`
	StaticDir    string          `koanf:"static_dir"`
}

type TLSConfig struct {
	CertFile string `koanf:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `koanf:"key_file" validate:"required_with=CertFile"`
}

type RateLimitConfig struct {
	// Requests per Window per client IP on submissions. Zero disables limiting.
	Requests int           `koanf:"requests" validate:"min=0"`
	Window   time.Duration `koanf:"window" validate:"required_with=Requests"`
}

type DatabaseConfig struct {
	// URL is sqlite://<path> or a postgres connection string
	URL string `koanf:"url" validate:"required"`
}

type AuthConfig struct {
	Mode       string   `koanf:"mode" validate:"oneof=shared_key password"`
	KeyPattern string   `koanf:"key_pattern"`
	Masters    []string `koanf:"masters"`
}

type FeedConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	Refresh  time.Duration `koanf:"refresh" validate:"min=0"`
	Buffer   int           `koanf:"buffer" validate:"gt=0"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			AllowOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Requests: 60,
				Window:   time.Minute,
			},
		},
		Database: DatabaseConfig{
			URL: "sqlite://starminers.db",
		},
		Auth: AuthConfig{
			Mode:       string(auth.ModePassword),
			KeyPattern: auth.DefaultKeyPattern,
		},
		Feed: FeedConfig{
			Interval: time.Second,
			Refresh:  time.Minute,
			Buffer:   1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// comma separated env values are split into these lists
var sliceConfigPaths = []string{
	"server.allow_origins",
	"auth.masters",
}

// Load builds the configuration from defaults, then the YAML file at path
// (or ConfigPathEnvVar when path is empty), then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Auth.Mode == string(auth.ModeSharedKey) && len(c.Auth.Masters) > 0 {
		return errors.New("auth.masters has no effect in shared_key mode")
	}
	return nil
}

// TLSEnabled reports whether both a certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile != ""
}
