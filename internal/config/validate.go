package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validLogLevels are the accepted log_level values.
var validLogLevels = map[string]bool{
	LogLevelDebug: true,
	LogLevelInfo:  true,
	LogLevelWarn:  true,
	LogLevelError: true,
}

// validLogFormats are the accepted log_format values.
var validLogFormats = map[string]bool{
	LogFormatAuto: true,
	LogFormatText: true,
	LogFormatJSON: true,
}

// Validate checks a Config for consistency. ClientID is deliberately not
// required here: commands that don't touch the API (e.g. status against a
// cached record) work without one, and the auth layer rejects a missing
// client ID with a precise error when it matters.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level %q (valid: debug, info, warn, error)", cfg.LogLevel)
	}

	if !validLogFormats[cfg.LogFormat] {
		return fmt.Errorf("invalid log_format %q (valid: auto, text, json)", cfg.LogFormat)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", cfg.MaxRetries)
	}

	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", cfg.TimeoutSeconds)
	}

	if cfg.RedirectURI != "" {
		u, err := url.Parse(cfg.RedirectURI)
		if err != nil || !strings.HasPrefix(u.Scheme, "http") || u.Host == "" {
			return fmt.Errorf("invalid redirect_uri %q: must be an http(s) URL", cfg.RedirectURI)
		}
	}

	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url %q: %w", cfg.BaseURL, err)
		}
	}

	return nil
}
