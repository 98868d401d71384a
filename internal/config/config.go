package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds process configuration for the server binaries
type Config struct {
	ServerPort       int
	DatabaseURL      string
	LogLevel         string
	ErrorSampleRate  int
	RulesDir         string
	RulesTenant      string
	RulesWatch       bool
	WatchDebounce    time.Duration
	ShutdownTimeout  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	RequestTimeout   time.Duration
}

// defaults are applied before the environment and the optional config file
var defaults = map[string]any{
	"SERVER_PORT":        8080,
	"DATABASE_URL":       "",
	"LOG_LEVEL":          "INFO",
	"ERROR_SAMPLE_RATE":  100,
	"RULES_DIR":          "",
	"RULES_TENANT":       "local",
	"RULES_WATCH":        true,
	"WATCH_DEBOUNCE":     "100ms",
	"SHUTDOWN_TIMEOUT":   "30s",
	"HTTP_READ_TIMEOUT":  "15s",
	"HTTP_WRITE_TIMEOUT": "15s",
	"REQUEST_TIMEOUT":    "60s",
}

// Load reads configuration from the environment and, when CONFIG_FILE is
// set, from that file. Environment variables take precedence.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		ServerPort:       v.GetInt("SERVER_PORT"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		ErrorSampleRate:  v.GetInt("ERROR_SAMPLE_RATE"),
		RulesDir:         v.GetString("RULES_DIR"),
		RulesTenant:      v.GetString("RULES_TENANT"),
		RulesWatch:       v.GetBool("RULES_WATCH"),
		WatchDebounce:    v.GetDuration("WATCH_DEBOUNCE"),
		ShutdownTimeout:  v.GetDuration("SHUTDOWN_TIMEOUT"),
		HTTPReadTimeout:  v.GetDuration("HTTP_READ_TIMEOUT"),
		HTTPWriteTimeout: v.GetDuration("HTTP_WRITE_TIMEOUT"),
		RequestTimeout:   v.GetDuration("REQUEST_TIMEOUT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can start a server
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.DatabaseURL == "" && c.RulesDir == "" {
		return fmt.Errorf("either DATABASE_URL or RULES_DIR must be set")
	}
	if c.RulesDir != "" && c.RulesTenant == "" {
		return fmt.Errorf("RULES_TENANT cannot be empty when RULES_DIR is set")
	}
	if c.ErrorSampleRate < 1 {
		return fmt.Errorf("ERROR_SAMPLE_RATE must be at least 1, got %d", c.ErrorSampleRate)
	}
	return nil
}
