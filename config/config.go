// Package config loads client settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultTimeout = 5 * time.Minute
)

// Config is the resolved client configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	ProviderOrder  []string
	AllowFallbacks *bool
	AppReferer     string
	AppTitle       string
	MetricsAddr    string
	NATSURL        string
}

// Load reads the given .env files (".env" when none are given) into the
// process environment and resolves the configuration from it. Missing files
// are ignored and variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return FromEnv()
}

// FromEnv resolves the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		BaseURL:     envStrOrDefault("TRICKLE_BASE_URL", DefaultBaseURL),
		APIKey:      envStrOrDefault("TRICKLE_API_KEY", os.Getenv("OPENAI_API_KEY")),
		Model:       envStrOrDefault("TRICKLE_MODEL", DefaultModel),
		Timeout:     DefaultTimeout,
		AppReferer:  os.Getenv("TRICKLE_APP_REFERER"),
		AppTitle:    envStrOrDefault("TRICKLE_APP_TITLE", "trickle"),
		MetricsAddr: os.Getenv("TRICKLE_METRICS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),
	}

	var errs []error
	if raw := os.Getenv("TRICKLE_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("TRICKLE_TIMEOUT: %w", err))
		case timeout < 0:
			errs = append(errs, fmt.Errorf("TRICKLE_TIMEOUT: must not be negative, got %s", raw))
		default:
			cfg.Timeout = timeout
		}
	}
	if raw := os.Getenv("TRICKLE_PROVIDER_ORDER"); raw != "" {
		cfg.ProviderOrder = splitList(raw)
	}
	if raw := os.Getenv("TRICKLE_ALLOW_FALLBACKS"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRICKLE_ALLOW_FALLBACKS: %w", err))
		} else {
			cfg.AllowFallbacks = &allow
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envStrOrDefault(key string, def string) string {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	return s
}

func splitList(raw string) []string {
	var result []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
