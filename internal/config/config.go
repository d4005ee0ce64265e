// Package config loads and validates the application's TOML configuration,
// layering defaults, the config file, environment variables, and CLI flags.
package config

import "time"

// Log level values accepted in the config file.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format values. "auto" picks text on a terminal and JSON otherwise.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Default client settings.
const (
	defaultTenantID   = "common"
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// Config is the application configuration as read from the TOML file.
type Config struct {
	// App registration.
	ClientID    string   `toml:"client_id"`
	TenantID    string   `toml:"tenant_id"`
	RedirectURI string   `toml:"redirect_uri"`
	Scopes      []string `toml:"scopes"`

	// RecordPath overrides where the authentication record is stored.
	RecordPath string `toml:"record_path"`

	// Client tuning.
	MaxRetries     int    `toml:"max_retries"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BaseURL        string `toml:"base_url"`

	// Logging.
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// DefaultConfig returns a Config populated with default values. ClientID
// has no default: it must come from the file, the environment, or a flag.
func DefaultConfig() *Config {
	return &Config{
		TenantID:       defaultTenantID,
		MaxRetries:     defaultMaxRetries,
		TimeoutSeconds: int(defaultTimeout / time.Second),
		LogLevel:       LogLevelInfo,
		LogFormat:      LogFormatAuto,
	}
}

// Timeout returns the HTTP client timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
