package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "MSGRAPH_CONFIG"
	EnvClientID    = "MSGRAPH_CLIENT_ID"
	EnvTenantID    = "MSGRAPH_TENANT_ID"
	EnvRedirectURI = "MSGRAPH_REDIRECT_URI"
	EnvRecordPath  = "MSGRAPH_RECORD_PATH"
	EnvLogLevel    = "MSGRAPH_LOG_LEVEL"
)

// EnvOverrides holds values read from environment variables. Empty fields
// mean the variable was unset.
type EnvOverrides struct {
	ConfigPath  string
	ClientID    string
	TenantID    string
	RedirectURI string
	RecordPath  string
	LogLevel    string
}

// ReadEnvOverrides reads the override environment variables. It does not
// modify any Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		ClientID:    os.Getenv(EnvClientID),
		TenantID:    os.Getenv(EnvTenantID),
		RedirectURI: os.Getenv(EnvRedirectURI),
		RecordPath:  os.Getenv(EnvRecordPath),
		LogLevel:    os.Getenv(EnvLogLevel),
	}
}
