package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tvuorela/msgraph-go/internal/credstore"
)

// DefaultScopes are the delegated permissions requested on every token
// acquisition. offline_access is what makes the refresh token (and therefore
// silent acquisition) possible. Immutable for the process lifetime.
var DefaultScopes = []string{
	"offline_access",
	"User.Read",
	"User.ReadBasic.All",
	"Mail.Read",
	"Calendars.Read",
	"Files.Read",
	"Chat.Read",
	"Team.ReadBasic.All",
	"TeamMember.ReadWrite.All",
}

// Credential is the interactive-auth capability held by the Manager.
// Exactly one instance exists per Manager. SilentToken never prompts;
// Authenticate performs exactly one interactive round trip.
type Credential interface {
	SilentToken(ctx context.Context) (AccessToken, *credstore.Record, error)
	Authenticate(ctx context.Context) (AccessToken, *credstore.Record, error)
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// browserCredential implements Credential using the authorization code +
// PKCE flow with a localhost callback server. Construction does no network
// I/O; the browser opens only inside Authenticate.
type browserCredential struct {
	oauth     *oauth2.Config
	authority string
	record    *credstore.Record
	openURL   func(string) error
	logger    *slog.Logger
}

// newBrowserCredential builds the credential from static configuration and
// an optional previously persisted record.
func newBrowserCredential(cfg Config, rec *credstore.Record, logger *slog.Logger) *browserCredential {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &browserCredential{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			Scopes:      scopes,
			Endpoint:    microsoft.AzureADEndpoint(cfg.TenantID),
			RedirectURL: cfg.RedirectURI,
		},
		authority: "https://login.microsoftonline.com/" + cfg.TenantID,
		record:    rec,
		openURL:   openBrowser,
		logger:    logger,
	}
}

// SilentToken acquires a bearer token using the record's refresh token,
// without any user interaction. Returns ErrNoRecord when no usable record
// is held, so the caller can decide whether to escalate to Authenticate.
func (b *browserCredential) SilentToken(ctx context.Context) (AccessToken, *credstore.Record, error) {
	if b.record == nil || b.record.Token == nil || b.record.Token.RefreshToken == "" {
		return AccessToken{}, nil, ErrNoRecord
	}

	tok, err := b.oauth.TokenSource(ctx, b.record.Token).Token()
	if err != nil {
		b.logger.Warn("silent token acquisition failed",
			slog.String("error", err.Error()),
		)

		return AccessToken{}, nil, fmt.Errorf("auth: silent token acquisition: %w", err)
	}

	b.logger.Debug("token acquired silently",
		slog.Time("expiry", tok.Expiry),
	)

	// The endpoint may rotate the refresh token; carry the latest one forward
	// in a fresh record so the manager can persist it.
	rec := b.recordWithToken(tok)
	b.record = rec

	return AccessToken{Value: tok.AccessToken, ExpiresOn: tok.Expiry}, rec, nil
}

// Authenticate performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server (random port, or the configured
//     redirect URI's port when one is set)
//  2. Opens the browser to the authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//
// Prompt failures (user closes the browser, network down) surface
// immediately — an interactive prompt must never fire twice unattended.
func (b *browserCredential) Authenticate(ctx context.Context) (AccessToken, *credstore.Record, error) {
	b.logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, redirectURL, err := startCallbackServer(ctx, mux, b.oauth.RedirectURL, resultCh, b.logger)
	if err != nil {
		return AccessToken{}, nil, err
	}

	defer shutdownCallbackServer(srv, b.logger)

	cfg := *b.oauth
	cfg.RedirectURL = redirectURL

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return AccessToken{}, nil, fmt.Errorf("auth: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	launchBrowser(authURL, b.openURL, b.logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return AccessToken{}, nil, err
	}

	b.logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return AccessToken{}, nil, fmt.Errorf("auth: token exchange failed: %w", err)
	}

	b.logger.Info("interactive authentication successful",
		slog.Time("expiry", tok.Expiry),
	)

	rec := b.newRecord(tok)
	b.record = rec

	return AccessToken{Value: tok.AccessToken, ExpiresOn: tok.Expiry}, rec, nil
}

// newRecord builds an authentication record from a freshly exchanged token,
// extracting the account identity from the accompanying ID token claims.
func (b *browserCredential) newRecord(tok *oauth2.Token) *credstore.Record {
	homeAccountID, username := identityFromToken(tok, b.logger)

	return &credstore.Record{
		Authority:     b.authority,
		HomeAccountID: homeAccountID,
		ClientID:      b.oauth.ClientID,
		Username:      username,
		Token:         tok,
	}
}

// recordWithToken copies the held record with a replacement token,
// preserving the identity fields.
func (b *browserCredential) recordWithToken(tok *oauth2.Token) *credstore.Record {
	rec := *b.record
	rec.Token = tok

	return &rec
}

// idTokenClaims is the subset of ID token claims used to identify the
// signed-in account. The home account ID follows the object-id.tenant-id
// convention used by the Microsoft identity libraries.
type idTokenClaims struct {
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	PreferredUsername string `json:"preferred_username"`
}

// identityFromToken decodes the ID token's claims segment for display
// identity. The signature is not verified — the token came straight from
// the token endpoint over TLS and the claims are only cached for display
// and record bookkeeping, never for authorization decisions.
func identityFromToken(tok *oauth2.Token, logger *slog.Logger) (homeAccountID, username string) {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		logger.Warn("token response carried no id_token, record identity will be empty")

		return "", ""
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		logger.Warn("malformed id_token, record identity will be empty")

		return "", ""
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		logger.Warn("undecodable id_token payload", slog.String("error", err.Error()))

		return "", ""
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		logger.Warn("unparsable id_token claims", slog.String("error", err.Error()))

		return "", ""
	}

	if claims.ObjectID != "" && claims.TenantID != "" {
		homeAccountID = claims.ObjectID + "." + claims.TenantID
	}

	return homeAccountID, claims.PreferredUsername
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// startCallbackServer binds the redirect listener and starts an HTTP server
// with the given mux. With an empty redirectURI it binds 127.0.0.1:0 and
// synthesizes a localhost redirect URL from the chosen port; otherwise it
// binds the host and port named by the configured URI.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	redirectURI string,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, string, error) {
	addr := "127.0.0.1:0"

	if redirectURI != "" {
		parsed, err := url.Parse(redirectURI)
		if err != nil {
			return nil, "", fmt.Errorf("auth: invalid redirect URI %q: %w", redirectURI, err)
		}

		addr = parsed.Host
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("auth: binding callback listener: %w", err)
	}

	redirectURL := redirectURI
	if redirectURL == "" {
		tcpAddr, ok := listener.Addr().(*net.TCPAddr)
		if !ok {
			listener.Close()
			return nil, "", errors.New("auth: listener address is not TCP")
		}

		// No path suffix — must match the registered "http://localhost" URI
		// exactly (the v2.0 endpoint ignores the port but requires path match).
		redirectURL = fmt.Sprintf("http://localhost:%d", tcpAddr.Port)
	}

	logger.Info("callback server listening", slog.String("addr", listener.Addr().String()))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}
		}
	}()

	return srv, redirectURL, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("auth: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("auth: authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: errors.New("auth: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr as a fallback so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("auth: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
