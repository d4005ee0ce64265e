package auth

import (
	"errors"
	"fmt"
)

// ErrMissingClientID indicates the required client ID is absent from both
// environment and config file. Fatal and non-retryable.
var ErrMissingClientID = errors.New("auth: client ID is not configured (set MSGRAPH_CLIENT_ID)")

// ErrNoRecord indicates no authentication record exists, so silent token
// acquisition is impossible and an interactive login is required.
var ErrNoRecord = errors.New("auth: no authentication record (run login first)")

// ConfigError wraps a fatal configuration problem. Callers should fix their
// environment rather than retry.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth: configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AuthError indicates token acquisition failed after the one permitted
// re-authentication escalation. Credential state has been reset as a side
// effect; the caller must not retry automatically — a dead refresh token
// needs the user, not a loop.
type AuthError struct {
	// Reason tells the user what to do: re-authenticate vs check network.
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
