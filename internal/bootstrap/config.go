package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/rolegate/config"
	apperrors "github.com/target/rolegate/internal/errors"
)

// InitLogger initializes the structured logger on stdout and makes it the default.
func InitLogger(cfg config.ObservabilityConfig) *slog.Logger {
	return InitLoggerTo(os.Stdout, cfg)
}

// InitLoggerTo is InitLogger writing to w. CLI tools log to stderr so
// command output stays pipeable.
func InitLoggerTo(w io.Writer, cfg config.ObservabilityConfig) *slog.Logger {
	logger := newLogger(w, cfg)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, cfg config.ObservabilityConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LoadConfig loads configuration from environment variables, sanitizes and
// validates it. Validation failures are configuration errors.
func LoadConfig() (config.AppConfig, error) {
	cfg, err := LoadRawConfig()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid config")
	}
	return cfg, nil
}

// LoadRawConfig loads and sanitizes configuration without validating that
// the server could start with it. Admin tooling uses it.
func LoadRawConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "parse config")
	}
	cfg.Sanitize()
	return cfg, nil
}

// GetEnabledServices returns the sorted names of enabled services.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabled := make([]string, 0, len(services))
	for svc, on := range services {
		if on {
			enabled = append(enabled, string(svc))
		}
	}
	sort.Strings(enabled)
	return enabled
}
