package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	APIURL      string `yaml:"apiUrl"`
	APIToken    string `yaml:"apiToken"`
	ChannelURL  string `yaml:"channelUrl"`
	ContentSlug string `yaml:"contentSlug"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`

	RequestTimeout time.Duration `yaml:"requestTimeout"`
	AuthTimeout    time.Duration `yaml:"authTimeout"`
	PingInterval   time.Duration `yaml:"pingInterval"`

	Reconnect Reconnect `yaml:"reconnect"`
}

// Reconnect holds the backoff policy for channel recovery.
type Reconnect struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxAttempts     int           `yaml:"maxAttempts"`
}

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		AuthTimeout:    10 * time.Second,
		PingInterval:   25 * time.Second,
		Reconnect: Reconnect{
			InitialInterval: time.Second,
			Multiplier:      2,
			MaxInterval:     30 * time.Second,
			MaxAttempts:     5,
		},
	}
}

// Load reads configuration from an optional YAML file, a .env file (if
// present) and environment variables. Environment variables take precedence
// over .env values, which take precedence over the file.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("STREAM_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// envKeys maps config keys to their environment variables.
var envKeys = map[string]string{
	"apiUrl":                    "STREAM_API_URL",
	"apiToken":                  "STREAM_API_TOKEN",
	"channelUrl":                "STREAM_CHANNEL_URL",
	"contentSlug":               "STREAM_CONTENT_SLUG",
	"metricsAddr":               "STREAM_METRICS_ADDR",
	"logLevel":                  "LOG_LEVEL",
	"requestTimeout":            "STREAM_REQUEST_TIMEOUT",
	"authTimeout":               "STREAM_AUTH_TIMEOUT",
	"pingInterval":              "STREAM_PING_INTERVAL",
	"reconnect.initialInterval": "STREAM_RECONNECT_INITIAL",
	"reconnect.multiplier":      "STREAM_RECONNECT_MULTIPLIER",
	"reconnect.maxInterval":     "STREAM_RECONNECT_MAX_INTERVAL",
	"reconnect.maxAttempts":     "STREAM_RECONNECT_MAX_ATTEMPTS",
}

// applyEnv overlays the environment variables that are set onto cfg.
func applyEnv(cfg *Config) error {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.APIToken == "" {
		errs = append(errs, errors.New("STREAM_API_TOKEN environment variable is required"))
	}
	if c.APIURL == "" && c.ChannelURL == "" {
		errs = append(errs, errors.New("one of STREAM_API_URL or STREAM_CHANNEL_URL is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("auth timeout must be positive"))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("ping interval must be positive"))
	}
	r := c.Reconnect
	if r.InitialInterval <= 0 {
		errs = append(errs, errors.New("reconnect initial interval must be positive"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect multiplier must be >= 1, got %v", r.Multiplier))
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, errors.New("reconnect max interval must not be below the initial interval"))
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect max attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
