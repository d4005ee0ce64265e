package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tvuorela/msgraph-go/internal/auth"
	"github.com/tvuorela/msgraph-go/internal/credstore"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Microsoft Graph in the browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved authentication record",
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a usable sign-in exists",
		RunE:  runStatus,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user's profile",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	manager := newManager(logger)

	logger.Info("login started")

	rec, err := manager.Authenticate(cmd.Context())
	if err != nil {
		return loginHint(err)
	}

	logger.Info("login successful", "username", rec.Username)
	statusf(flagQuiet, "Logged in as %s.\n", rec.Username)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	manager := newManager(logger)

	if err := manager.ClearCache(); err != nil {
		return err
	}

	logger.Info("logout successful")
	statusf(flagQuiet, "Logged out.\n")

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	LoggedIn     bool   `json:"logged_in"`
	Username     string `json:"username,omitempty"`
	Tenant       string `json:"tenant,omitempty"`
	TokenExpires string `json:"token_expires,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	manager := newManager(logger)

	out := statusOutput{
		LoggedIn: manager.ExistsValidToken(cmd.Context()),
	}

	if rec, err := credstore.Load(authConfig().RecordPath); err == nil && rec != nil {
		out.Username = rec.Username
		out.Tenant = rec.Authority
	}

	// ExistsValidToken already cached a fresh token, so this never prompts.
	if out.LoggedIn {
		if tok, err := manager.GetTokenWithDetails(cmd.Context()); err == nil {
			out.TokenExpires = tok.ExpiresOn.UTC().Format(time.RFC3339)
		}
	}

	if flagJSON {
		return printJSON(out)
	}

	if !out.LoggedIn {
		fmt.Println("Not logged in.")

		return nil
	}

	fmt.Printf("Logged in as %s\n", out.Username)

	if out.TokenExpires != "" {
		fmt.Printf("Token valid until %s\n", out.TokenExpires)
	}

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	UserPrincipalName string `json:"user_principal_name"`
	Mail              string `json:"mail,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	manager := newManager(logger)
	client := newGraphClient(manager, logger)

	user, err := client.Me(cmd.Context())
	if err != nil {
		return loginHint(fmt.Errorf("fetching user profile: %w", err))
	}

	if flagJSON {
		return printJSON(whoamiOutput{
			ID:                user.ID,
			DisplayName:       user.DisplayName,
			UserPrincipalName: user.UserPrincipalName,
			Mail:              user.Mail,
		})
	}

	fmt.Printf("User:  %s (%s)\n", user.DisplayName, user.UserPrincipalName)
	fmt.Printf("ID:    %s\n", user.ID)

	return nil
}

// loginHint wraps auth failures with a pointer to the login command.
func loginHint(err error) error {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) || errors.Is(err, auth.ErrNoRecord) {
		return fmt.Errorf("%w\nRun 'msgraph login' to sign in.", err)
	}

	return err
}

