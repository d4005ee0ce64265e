// Package auth owns the credential lifecycle for delegated Microsoft Graph
// access: one interactive credential per process, an in-memory cached bearer
// token, and the persisted authentication record that survives restarts.
// Callers obtain tokens exclusively through Manager.GetToken.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tvuorela/msgraph-go/internal/credstore"
)

// Environment variable names, read by ConfigFromEnv.
const (
	EnvClientID    = "MSGRAPH_CLIENT_ID"
	EnvTenantID    = "MSGRAPH_TENANT_ID"
	EnvRedirectURI = "MSGRAPH_REDIRECT_URI"
)

// DefaultTenantID is the multi-tenant authority used when no tenant is configured.
const DefaultTenantID = "common"

// Config holds the static inputs for building a Credential. All fields but
// ClientID are optional; ClientID absence surfaces as a ConfigError on first use.
type Config struct {
	ClientID    string
	TenantID    string
	RedirectURI string
	RecordPath  string
	Scopes      []string
}

// ConfigFromEnv builds a Config from the environment. Missing CLIENT_ID is
// not an error here — construction stays infallible and the failure surfaces
// as a ConfigError from GetCredential, where callers can act on it.
func ConfigFromEnv() Config {
	tenant := os.Getenv(EnvTenantID)
	if tenant == "" {
		tenant = DefaultTenantID
	}

	return Config{
		ClientID:    os.Getenv(EnvClientID),
		TenantID:    tenant,
		RedirectURI: os.Getenv(EnvRedirectURI),
		RecordPath:  DefaultRecordPath(),
	}
}

// DefaultRecordPath returns the default location of the persisted
// authentication record, under the user config directory.
func DefaultRecordPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}

	return filepath.Join(base, "msgraph-go", "record.json")
}

// Manager is the token lifecycle manager. It guarantees that any caller
// obtains a currently valid bearer token with at most one interactive prompt
// per unrecoverable credential loss, and zero prompts when a valid cached
// token or a usable authentication record exists.
//
// One Manager per process; share it. It is safe for concurrent use, and
// concurrent GetToken calls coalesce into a single acquisition.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// newCredential builds the interactive-auth capability. Tests inject a
	// fake; production uses the browser PKCE flow.
	newCredential func(Config, *credstore.Record, *slog.Logger) Credential

	mu     sync.Mutex
	cred   Credential
	cached AccessToken

	group singleflight.Group

	// now is the clock. Tests override it for expiry boundary checks.
	now func() time.Time
}

// NewManager creates a Manager. Construction never performs network I/O.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.TenantID == "" {
		cfg.TenantID = DefaultTenantID
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		newCredential: func(c Config, rec *credstore.Record, l *slog.Logger) Credential {
			return newBrowserCredential(c, rec, l)
		},
		now: time.Now,
	}
}

// GetCredential returns the in-memory Credential, constructing it on first
// use from the configuration and any record found on disk.
func (m *Manager) GetCredential() (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.credentialLocked()
}

func (m *Manager) credentialLocked() (Credential, error) {
	if m.cred != nil {
		return m.cred, nil
	}

	if m.cfg.ClientID == "" {
		return nil, &ConfigError{Err: ErrMissingClientID}
	}

	rec, err := credstore.Load(m.cfg.RecordPath)
	if err != nil {
		// A corrupt or unreadable record degrades to interactive login;
		// staleness is self-correcting.
		m.logger.Warn("ignoring unreadable authentication record",
			slog.String("path", m.cfg.RecordPath),
			slog.String("error", err.Error()),
		)

		rec = nil
	}

	m.cred = m.newCredential(m.cfg, rec, m.logger)

	return m.cred, nil
}

// Authenticate forces one interactive authentication round trip, persists
// the resulting record (overwriting any existing one), and returns it.
func (m *Manager) Authenticate(ctx context.Context) (*credstore.Record, error) {
	cred, err := m.GetCredential()
	if err != nil {
		return nil, err
	}

	tok, rec, err := cred.Authenticate(ctx)
	if err != nil {
		return nil, &AuthError{Reason: "interactive authentication failed; check network and browser", Err: err}
	}

	m.store(tok, rec)

	return rec, nil
}

// GetToken returns a currently valid bearer token, acquiring or refreshing
// as needed. See GetTokenWithDetails for the full policy.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	tok, err := m.GetTokenWithDetails(ctx)
	if err != nil {
		return "", err
	}

	return tok.Value, nil
}

// GetTokenWithDetails returns a valid bearer token with its absolute expiry.
//
// Policy: a cached token inside its validity window is returned without any
// credential call. Otherwise silent acquisition runs via the record's
// refresh token; if that is impossible or fails, exactly one interactive
// authentication is attempted. When even that fails after a previously
// working record, all credential state is cleared and an AuthError is
// returned — callers must not retry past that point, because looping on a
// dead refresh token hides the failure from the user.
func (m *Manager) GetTokenWithDetails(ctx context.Context) (AccessToken, error) {
	m.mu.Lock()
	cached := m.cached
	now := m.now()
	m.mu.Unlock()

	if cached.Valid(now) {
		return cached, nil
	}

	v, err, _ := m.group.Do("token", func() (any, error) {
		return m.acquire(ctx)
	})
	if err != nil {
		return AccessToken{}, err
	}

	return v.(AccessToken), nil
}

// acquire performs one full acquisition: silent first, one interactive
// escalation, then failure. Runs inside the singleflight group.
func (m *Manager) acquire(ctx context.Context) (AccessToken, error) {
	m.mu.Lock()

	// Another coalesced caller may have refreshed while this one waited.
	if m.cached.Valid(m.now()) {
		tok := m.cached
		m.mu.Unlock()

		return tok, nil
	}

	cred, err := m.credentialLocked()
	m.mu.Unlock()

	if err != nil {
		return AccessToken{}, err
	}

	tok, rec, silentErr := cred.SilentToken(ctx)
	if silentErr == nil {
		m.store(tok, rec)

		return tok, nil
	}

	hadRecord := !errors.Is(silentErr, ErrNoRecord)
	if hadRecord {
		m.logger.Warn("silent token acquisition failed, escalating to interactive",
			slog.String("error", silentErr.Error()),
		)
	} else {
		m.logger.Info("no authentication record, starting interactive authentication")
	}

	// The one permitted re-authentication escalation.
	tok, rec, authErr := cred.Authenticate(ctx)
	if authErr != nil {
		if hadRecord {
			// The record's refresh token is dead and the user did not (or
			// could not) re-consent. Reset so the next attempt starts clean.
			if clearErr := m.ClearCache(); clearErr != nil {
				m.logger.Warn("clearing credential state failed",
					slog.String("error", clearErr.Error()),
				)
			}

			return AccessToken{}, &AuthError{
				Reason: "re-authentication failed after silent refresh failure; run login again or check network",
				Err:    authErr,
			}
		}

		return AccessToken{}, &AuthError{
			Reason: "interactive authentication failed; check network and browser",
			Err:    authErr,
		}
	}

	m.store(tok, rec)

	return tok, nil
}

// store caches the token in memory and persists the record. Persistence
// failure is logged, not fatal — the token is still good for this process.
func (m *Manager) store(tok AccessToken, rec *credstore.Record) {
	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()

	if rec == nil {
		return
	}

	if err := credstore.Save(m.cfg.RecordPath, rec); err != nil {
		m.logger.Warn("persisting authentication record failed",
			slog.String("path", m.cfg.RecordPath),
			slog.String("error", err.Error()),
		)

		return
	}

	m.logger.Debug("persisted authentication record",
		slog.String("path", m.cfg.RecordPath),
		slog.Time("token_expiry", tok.ExpiresOn),
	)
}

// ExistsValidToken reports whether a record is present on disk and a token
// can currently be obtained from it without interactive fallback. Best
// effort: any failure is false, never an error, never a prompt.
func (m *Manager) ExistsValidToken(ctx context.Context) bool {
	rec, err := credstore.Load(m.cfg.RecordPath)
	if err != nil || rec == nil {
		return false
	}

	m.mu.Lock()
	cached := m.cached
	now := m.now()
	m.mu.Unlock()

	if cached.Valid(now) {
		return true
	}

	cred, err := m.GetCredential()
	if err != nil {
		return false
	}

	tok, newRec, err := cred.SilentToken(ctx)
	if err != nil {
		return false
	}

	m.store(tok, newRec)

	return true
}

// ClearCache deletes the persisted record (idempotent) and drops the
// in-memory credential and token, so the next GetCredential rebuilds from
// scratch.
func (m *Manager) ClearCache() error {
	m.mu.Lock()
	m.cred = nil
	m.cached = AccessToken{}
	m.mu.Unlock()

	return credstore.Clear(m.cfg.RecordPath)
}

// Invalidate drops the in-memory credential and cached token without
// touching the on-disk record. The next acquisition rebuilds from disk,
// picking up a record written by another process.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cred = nil
	m.cached = AccessToken{}
	m.mu.Unlock()
}

// WatchStore blocks watching the record file, invalidating in-memory state
// whenever another process rewrites it (e.g. a CLI login next to a running
// server). Returns when ctx is canceled.
func (m *Manager) WatchStore(ctx context.Context) error {
	return credstore.Watch(ctx, m.cfg.RecordPath, m.Invalidate, m.logger)
}
